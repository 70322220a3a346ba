package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/application/regeneration"
	"github.com/example/availability-orchestrator/internal/domain/availability"
)

func restaurantID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "restaurantID"))
}

func (s *Server) handleGetStale(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Stale.CurrentState(restaurantID(r)))
}

func (s *Server) handleClearStale(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Stale.Clear(r.Context(), restaurantID(r)); err != nil {
		s.logger.Warn("clear stale flag failed", zap.String("restaurant_id", restaurantID(r)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeRequest struct {
	Kind    string          `json:"kind"`
	Action  string          `json:"action"`
	Details json.RawMessage `json:"details"`
}

type changeResponse struct {
	Stale       bool   `json:"stale"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleRecordChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	kind, err := availability.ParseChangeKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action := availability.ChangeAction(req.Action)
	if !action.Valid() {
		writeError(w, http.StatusBadRequest, "unknown action "+req.Action)
		return
	}

	var details any
	if len(req.Details) > 0 {
		details = req.Details
	}
	id := restaurantID(r)
	desc, err := s.opts.Stale.RecordChange(r.Context(), id, kind, action, details)
	if err != nil && desc == "" {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		// The flag is set in memory; only persistence failed.
		s.logger.Warn("persist stale flag failed", zap.String("restaurant_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusAccepted, changeResponse{Stale: s.opts.Stale.CurrentState(id).Active, Description: desc})
}

type regenerationRequest struct {
	Mode          string                   `json:"mode"`
	Start         string                   `json:"start,omitempty"`
	End           string                   `json:"end,omitempty"`
	ProposedHours availability.WeeklyHours `json:"proposed_hours,omitempty"`
	CurrentHours  availability.WeeklyHours `json:"current_hours,omitempty"`
	Confirmed     bool                     `json:"confirmed,omitempty"`
}

type regenerationResponse struct {
	Outcome   availability.RegenerationOutcome   `json:"outcome"`
	Conflicts []availability.ReservationConflict `json:"conflicts,omitempty"`
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mode := availability.ModeCleanupAndRegenerate
	if req.Mode != "" {
		m, err := availability.ParseMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	id := restaurantID(r)
	start, end, ok := s.period(w, r, id, req.Start, req.End)
	if !ok {
		return
	}

	var (
		out       availability.RegenerationOutcome
		conflicts []availability.ReservationConflict
		err       error
	)
	if req.ProposedHours != nil {
		current := req.CurrentHours
		if current == nil && s.opts.Schedules != nil {
			if current, err = s.opts.Schedules.WeeklyHours(r.Context(), id); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		out, conflicts, err = s.opts.Regen.RunWithProtection(r.Context(), regeneration.ProtectedRun{
			RestaurantID: id,
			Mode:         mode,
			Start:        start,
			End:          end,
			Proposed:     req.ProposedHours,
			Current:      current,
			Confirmed:    req.Confirmed,
		})
	} else {
		out, err = s.opts.Regen.Run(r.Context(), mode, id, start, end)
	}
	if err != nil {
		writeRunError(w, err)
		return
	}

	status := http.StatusOK
	if out.Status == availability.StatusAlreadyRunning {
		status = http.StatusConflict
	}
	writeJSON(w, status, regenerationResponse{Outcome: out, Conflicts: conflicts})
}

// period parses the requested dates or falls back to the default horizon.
func (s *Server) period(w http.ResponseWriter, r *http.Request, id, startStr, endStr string) (time.Time, time.Time, bool) {
	if startStr == "" && endStr == "" {
		p, err := s.opts.Regen.DefaultPeriod(r.Context(), id, s.opts.Location, s.opts.HorizonDays)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return time.Time{}, time.Time{}, false
		}
		return p.Start, p.End, true
	}
	start, err := availability.ParseDate(startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	end, err := availability.ParseDate(endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (s *Server) handleLastOutcome(w http.ResponseWriter, r *http.Request) {
	out, ok, err := s.opts.Regen.LastOutcome(r.Context(), restaurantID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no regeneration recorded")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type conflictsRequest struct {
	ProposedHours availability.WeeklyHours `json:"proposed_hours"`
	CurrentHours  availability.WeeklyHours `json:"current_hours,omitempty"`
}

func (s *Server) handleFindConflicts(w http.ResponseWriter, r *http.Request) {
	if s.opts.Protector == nil {
		writeError(w, http.StatusNotImplemented, "conflict protection is not configured")
		return
	}
	var req conflictsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProposedHours == nil {
		writeError(w, http.StatusBadRequest, "proposed_hours is required")
		return
	}
	id := restaurantID(r)
	current := req.CurrentHours
	if current == nil && s.opts.Schedules != nil {
		var err error
		if current, err = s.opts.Schedules.WeeklyHours(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	conflicts, err := s.opts.Protector.FindConflicts(r.Context(), id, req.ProposedHours, current)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conflicts == nil {
		conflicts = []availability.ReservationConflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

type protectRequest struct {
	Conflicts     []availability.ReservationConflict `json:"conflicts"`
	OriginalHours availability.WeeklyHours           `json:"original_hours,omitempty"`
}

func (s *Server) handleProtect(w http.ResponseWriter, r *http.Request) {
	if s.opts.Protector == nil {
		writeError(w, http.StatusNotImplemented, "conflict protection is not configured")
		return
	}
	var req protectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	for i := range req.Conflicts {
		wd, err := availability.ParseWeekday(req.Conflicts[i].DisplayName)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Conflicts[i].Weekday = wd
		if err := req.Conflicts[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	exceptions, err := s.opts.Protector.Protect(r.Context(), restaurantID(r), req.Conflicts, req.OriginalHours)
	if err != nil {
		if errors.Is(err, availability.ErrExceptionUpsertFailed) {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Code: availability.CodeOf(err)})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if exceptions == nil {
		exceptions = []availability.CalendarException{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exceptions": exceptions})
}
