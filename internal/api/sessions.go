package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/pitch"
)

// maxAudioBytes caps uploads at roughly 45 minutes of 48kHz mono PCM.
const maxAudioBytes = 256 << 20

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID()})
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.runner.Forget(sess.ID())
	if err := sess.Reset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// uploadAudio accepts 16-bit little-endian mono PCM.
func (s *Server) uploadAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	rate, err := strconv.Atoi(r.URL.Query().Get("sample_rate"))
	if err != nil || rate <= 0 {
		badRequest(w, "sample_rate query parameter is required")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		badRequest(w, fmt.Sprintf("read audio: %v", err))
		return
	}
	audio, err := pitch.DecodePCM16(data, rate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := sess.SetAudio(r.Context(), audio); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"samples":     len(audio.Samples),
		"sample_rate": audio.SampleRate,
		"duration":    audio.Duration(),
	})
}

// uploadContour accepts a precomputed full-track contour as a JSON array of
// {time, pitch} samples.
func (s *Server) uploadContour(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var c contour.Contour
	if err := decode(r, &c, false); err != nil {
		badRequest(w, fmt.Sprintf("invalid contour: %v", err))
		return
	}
	if err := sess.SetContour(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"frames":   c.Len(),
		"voiced":   c.VoicedCount(),
		"duration": c.Duration(),
	})
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="antiphon-%s.json"`, sess.ID()))
	writeJSON(w, http.StatusOK, sess.Export())
}
