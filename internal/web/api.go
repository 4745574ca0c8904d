package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"

	"github.com/example/courtsched/internal/apperr"
	"github.com/example/courtsched/internal/booking"
)

var validate = validator.New()

type createRequest struct {
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
	Resource     string   `json:"resource" validate:"required"`
	SubmitTime   string   `json:"submit_time" validate:"omitempty"`
	TargetAt     string   `json:"target_at" validate:"omitempty"`
	NotifyTarget string   `json:"notify_target" validate:"omitempty,email"`
}

type cancelRequest struct {
	Credential string `json:"credential" validate:"required"`
}

func (s *Server) handleAPICreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	var targetAt time.Time
	if req.TargetAt != "" {
		t, err := time.Parse(time.RFC3339, req.TargetAt)
		if err != nil {
			writeErr(w, apperr.Validation("invalid target_at (want RFC 3339)"))
			return
		}
		targetAt = t
	}

	b, err := s.Svc.Create(r.Context(), booking.CreateRequest{
		Participants: req.Participants,
		Resource:     req.Resource,
		TargetAt:     targetAt,
		SubmitTime:   req.SubmitTime,
		NotifyTarget: req.NotifyTarget,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":  string(b.State),
		"booking": b,
	})
}

func (s *Server) handleAPIList(w http.ResponseWriter, r *http.Request) {
	views, err := s.Svc.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(views), "bookings": views})
}

func (s *Server) handleAPIGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	v, err := s.Svc.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAPICancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.Svc.Cancel(r.Context(), ps.ByName("id"), req.Credential); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func (s *Server) handleAPICancelCode(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.Svc.RequestCancelCode(r.Context(), ps.ByName("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "verification code sent to notification channels"})
}

func (s *Server) handleAPIResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"resources": s.Cfg.Form.Resources})
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Validation("%v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, err error) {
	e := apperr.AsError(err)
	writeJSON(w, e.StatusCode(), map[string]any{"code": e.Code, "message": e.Message})
}
