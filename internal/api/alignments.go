package api

import (
	"fmt"
	"net/http"

	"github.com/MikeSquared-Agency/antiphon/internal/alignment"
	"github.com/MikeSquared-Agency/antiphon/internal/editor"
)

type customOffsetRequest struct {
	CustomOffset *float64 `json:"custom_offset"`
}

func (s *Server) listPairs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Pairs())
}

func (s *Server) pairPitch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	pid, ok := pairParam(w, r)
	if !ok {
		return
	}
	pp, err := sess.PairPitch(pid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pp)
}

func (s *Server) pairMetrics(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	pid, ok := pairParam(w, r)
	if !ok {
		return
	}
	offset, err := floatQuery(r, "offset")
	if err != nil {
		badRequest(w, fmt.Sprintf("invalid offset: %v", err))
		return
	}
	m, err := sess.PairMetrics(pid, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) listAlignments(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Alignments())
}

func (s *Server) reoptimize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	aligns, err := sess.Reoptimize(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, aligns)
}

func (s *Server) setCustomOffset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	pid, ok := pairParam(w, r)
	if !ok {
		return
	}
	var req customOffsetRequest
	if err := decode(r, &req, false); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.CustomOffset == nil {
		badRequest(w, "custom_offset is required")
		return
	}

	var a alignment.Alignment
	err := sess.Edit(func(e *editor.Editor) error {
		var err error
		a, err = e.SetCustomOffset(r.Context(), pid, *req.CustomOffset)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) resetCustomOffset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	pid, ok := pairParam(w, r)
	if !ok {
		return
	}
	var a alignment.Alignment
	err := sess.Edit(func(e *editor.Editor) error {
		var err error
		a, err = e.ResetCustomOffset(r.Context(), pid)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
