package web

import (
	"net/http"

	"clubcal/internal/provider"
	"clubcal/internal/reschedule"
)

type dragStartRequest struct {
	Mode        reschedule.Mode `json:"mode"`
	RangeStart  string          `json:"rangeStart"`
	ColumnWidth float64         `json:"columnWidth"`
	RowHeight   float64         `json:"rowHeight"`
}

type dragMoveRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type dragDropRequest struct {
	Scope string `json:"scope"`
}

// POST /api/drag/{id}/start {"mode":"week","rangeStart":"2024-06-10","columnWidth":120}
func (s *Server) handleDragStart(w http.ResponseWriter, r *http.Request) {
	var req dragStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	view := reschedule.View{Mode: req.Mode, ColumnWidth: req.ColumnWidth, RowHeight: req.RowHeight}
	switch view.Mode {
	case reschedule.ModeDay, reschedule.ModeWeek, reschedule.ModeMonth:
	case "":
		view.Mode = reschedule.ModeWeek
	default:
		writeError(w, http.StatusBadRequest, "mode must be day, week or month")
		return
	}
	if req.RangeStart != "" {
		t, err := parseAnchor(req.RangeStart, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		view.RangeStart = t
	}

	op, err := s.coord.Start(r.PathValue("id"), view)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// POST /api/drag/{id}/move {"dx":120,"dy":30}
func (s *Server) handleDragMove(w http.ResponseWriter, r *http.Request) {
	var req dragMoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	op, err := s.coord.Move(r.PathValue("id"), req.DX, req.DY)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// POST /api/drag/{id}/drop {"scope":"thisAndFuture"}
//
// A recurring occurrence dropped without a scope answers 400 and stays in
// the dragging state, so the client can ask the user and drop again.
func (s *Server) handleDragDrop(w http.ResponseWriter, r *http.Request) {
	var req dragDropRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	var scope provider.Scope
	if req.Scope != "" {
		var err error
		if scope, err = provider.ParseScope(req.Scope); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id := r.PathValue("id")
	ev, err := s.coord.Drop(r.Context(), id, scope)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(ev))
}

// POST /api/drag/{id}/cancel
func (s *Server) handleDragCancel(w http.ResponseWriter, r *http.Request) {
	ev, err := s.coord.Cancel(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(ev))
}
