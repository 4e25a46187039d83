package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/antiphon/internal/editor"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

type createSectionRequest struct {
	Start       float64       `json:"start"`
	End         float64       `json:"end"`
	Label       section.Label `json:"label"`
	IsReference bool          `json:"is_reference"`
}

type splitRequest struct {
	At float64 `json:"at"`
}

type mergeRequest struct {
	IDs []string `json:"ids"`
}

type historyResponse struct {
	Applied  bool              `json:"applied"`
	CanUndo  bool              `json:"can_undo"`
	CanRedo  bool              `json:"can_redo"`
	Sections []section.Section `json:"sections"`
}

func (s *Server) listSections(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Sections())
}

func (s *Server) createSection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req createSectionRequest
	if err := decode(r, &req, false); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var created section.Section
	err := sess.Edit(func(e *editor.Editor) error {
		var err error
		created, err = e.Create(r.Context(), section.Section{
			Start:       req.Start,
			End:         req.End,
			Label:       req.Label,
			IsReference: req.IsReference,
		})
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateSection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var u editor.Update
	if err := decode(r, &u, false); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var updated section.Section
	err := sess.Edit(func(e *editor.Editor) error {
		var err error
		updated, err = e.Update(r.Context(), chi.URLParam(r, "id"), u)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteSection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	err := sess.Edit(func(e *editor.Editor) error {
		return e.Delete(r.Context(), chi.URLParam(r, "id"))
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleLabel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var toggled section.Section
	err := sess.Edit(func(e *editor.Editor) error {
		var err error
		toggled, err = e.ToggleLabel(r.Context(), chi.URLParam(r, "id"))
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toggled)
}

func (s *Server) splitSection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req splitRequest
	if err := decode(r, &req, false); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var halves [2]section.Section
	err := sess.Edit(func(e *editor.Editor) error {
		var err error
		halves, err = e.Split(r.Context(), chi.URLParam(r, "id"), req.At)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, halves)
}

func (s *Server) mergeSections(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req mergeRequest
	if err := decode(r, &req, false); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var merged section.Section
	err := sess.Edit(func(e *editor.Editor) error {
		var err error
		merged, err = e.Merge(r.Context(), req.IDs)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) undo(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, (*editor.Editor).Undo)
}

func (s *Server) redo(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, (*editor.Editor).Redo)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request, step func(*editor.Editor, context.Context) (bool, error)) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var resp historyResponse
	err := sess.Edit(func(e *editor.Editor) error {
		applied, err := step(e, r.Context())
		if err != nil {
			return err
		}
		resp = historyResponse{
			Applied:  applied,
			CanUndo:  e.CanUndo(),
			CanRedo:  e.CanRedo(),
			Sections: e.Sections(),
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
