package api

import (
	"fmt"
	"net/http"

	"github.com/MikeSquared-Agency/antiphon/internal/analysis"
	"github.com/MikeSquared-Agency/antiphon/internal/fingerprint"
)

type analysisRequest struct {
	References []fingerprint.Reference `json:"references"`
}

type logsResponse struct {
	Lines []analysis.Line `json:"lines"`
	Next  int             `json:"next"`
}

// startAnalysis runs the pipeline in the background. References are
// optional; without them sections are detected automatically.
func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req analysisRequest
	if err := decode(r, &req, true); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	for _, ref := range req.References {
		if !ref.Label.Valid() {
			badRequest(w, fmt.Sprintf("invalid reference label %q", ref.Label))
			return
		}
		if err := ref.Range.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := s.runner.Start(r.Context(), sess, req.References); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.runner.Status(sess.ID()))
}

func (s *Server) analysisStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Status(sess.ID()))
}

func (s *Server) analysisLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	since, err := intQuery(r, "since", 0)
	if err != nil || since < 0 {
		badRequest(w, "invalid since cursor")
		return
	}
	lines, next := s.runner.Logs(sess.ID(), since)
	writeJSON(w, http.StatusOK, logsResponse{Lines: lines, Next: next})
}

func (s *Server) proposals(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	top, err := intQuery(r, "top", 3)
	if err != nil || top <= 0 {
		badRequest(w, "invalid top")
		return
	}
	writeJSON(w, http.StatusOK, sess.Proposals(top))
}
