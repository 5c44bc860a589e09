package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/thermolink-core/internal/audit"
	"github.com/nerrad567/thermolink-core/internal/device"
)

// handleListDevices returns the caller's devices with their latest reading.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.manager.ListDevices(r.Context(), accountIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.manager.Device(r.Context(), accountIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListReadings returns readings newest first.
//
// Query parameters (RFC 3339, both optional and inclusive):
//   - from
//   - to
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	readings, err := s.manager.Readings(r.Context(), accountIDFromContext(r.Context()), chi.URLParam(r, "id"), from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

func (s *Server) handleClearReadings(w http.ResponseWriter, r *http.Request) {
	n, err := s.manager.ClearReadings(r.Context(), accountIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

// handleUpdateConfig applies a partial configuration update. A stored
// change whose publish failed is still a 200 with "delivered": false.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update device.ConfigUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.manager.UpdateConfig(r.Context(), accountIDFromContext(r.Context()), chi.URLParam(r, "id"), update)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.manager.LinkedAccounts(r.Context(), accountIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": links, "count": len(links)})
}

type addLinkRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleAddLink(w http.ResponseWriter, r *http.Request) {
	var req addLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "email is required")
		return
	}

	link, err := s.manager.AddLink(r.Context(), accountIDFromContext(r.Context()), chi.URLParam(r, "id"), req.Email)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleRemoveLink(w http.ResponseWriter, r *http.Request) {
	err := s.manager.RemoveLink(r.Context(),
		accountIDFromContext(r.Context()),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "accountID"),
	)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRotateSecret returns the new secret code. This is the only time it
// is ever readable.
func (s *Server) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	code, err := s.manager.RotateSecret(r.Context(), accountIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"secret_code": code})
}

// handleListHistory returns the device's audit trail, newest first.
//
// Query parameters (all optional):
//   - action: one recorded action name
//   - limit: page size, default 50, at most 200
//   - offset
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{Action: r.URL.Query().Get("action")}
	var err error
	if filter.Limit, err = parseIntParam(r, "limit"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = parseIntParam(r, "offset"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	page, err := s.manager.History(r.Context(), accountIDFromContext(r.Context()), chi.URLParam(r, "id"), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
