package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/RoboticBase/uoa-poc2-controller/internal/apperrors"
	"github.com/RoboticBase/uoa-poc2-controller/internal/model"
	"github.com/RoboticBase/uoa-poc2-controller/internal/notification"
	"github.com/RoboticBase/uoa-poc2-controller/internal/orchestrator"
	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

// Handler routes the five HTTP endpoints of spec.md §6 onto an Orchestrator.
type Handler struct {
	orch   *orchestrator.Orchestrator
	logger logger.Logger
}

// New builds a Handler.
func New(orch *orchestrator.Orchestrator, log logger.Logger) *Handler {
	return &Handler{orch: orch, logger: log}
}

// Routes registers the five endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/shipments/", h.createShipment)
	mux.HandleFunc("GET /api/v1/robots/{id}/", h.getRobotStatus)
	mux.HandleFunc("PATCH /api/v1/robots/{id}/nexts/", h.advanceRobot)
	mux.HandleFunc("PATCH /api/v1/robots/{id}/emergencies/", h.emergency)
	mux.HandleFunc("POST /api/v1/robots/notifications/", h.notifications)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.InternalWrap(err, "unexpected error")
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindPrecondition:
		status = http.StatusUnprocessableEntity
		if errors.Is(appErr, apperrors.ErrNoRemainingWaypoints) {
			status = http.StatusPreconditionFailed
		}
	case apperrors.KindConflict:
		status = http.StatusLocked
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindInternal:
		status = http.StatusInternalServerError
	}

	body := map[string]interface{}{"message": appErr.Error()}
	for k, v := range appErr.Fields {
		body[k] = v
	}
	if appErr.RootCause != "" {
		body["root_cause"] = appErr.RootCause
	}

	writeJSON(w, status, body)
}

func (h *Handler) createShipment(w http.ResponseWriter, r *http.Request) {
	var req model.ShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}

	result, err := h.orch.CreateShipment(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !result.Accepted {
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": "ignore", "message": result.IgnoreMsg})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"result":         "ok",
		"delivery_robot": map[string]string{"id": result.RobotID},
		"order":          result.Order,
		"caller":         result.Caller,
	})
}

func (h *Handler) getRobotStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.orch.GetRobotStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          status.ID,
		"state":       status.State,
		"destination": status.Destination,
	})
}

func (h *Handler) advanceRobot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := h.orch.AdvanceRobot(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (h *Handler) emergency(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Cmd string `json:"cmd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Cmd == "" {
		body.Cmd = "emergency_stop"
	}

	if err := h.orch.Emergency(r.Context(), id, body.Cmd); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": "ok"})
}

type notificationElementWire struct {
	ID   string `json:"id"`
	Mode struct {
		Value string `json:"value"`
	} `json:"mode"`
	Time struct {
		Value string `json:"value"`
	} `json:"time"`
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data []notificationElementWire `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}

	elements := make([]notification.Element, 0, len(body.Data))
	for _, d := range body.Data {
		if d.ID == "" || d.Mode.Value == "" {
			h.writeError(w, apperrors.Validation("notification element missing id or mode.value"))
			return
		}
		t, err := parseNotificationTime(d.Time.Value)
		if err != nil {
			h.writeError(w, apperrors.Validation("notification element has invalid time.value: %v", err))
			return
		}
		elements = append(elements, notification.Element{ID: d.ID, Mode: d.Mode.Value, Time: t})
	}

	batch := h.orch.ProcessNotifications(r.Context(), elements)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":         "ok",
		"processed_data": batch.Processed,
		"ignored_data":   batch.Ignored,
	})
}

func parseNotificationTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: time.RFC3339Nano, Value: s}
}
