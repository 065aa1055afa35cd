package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/eugenenazirov/peerconf/internal/overlay"
	"github.com/eugenenazirov/peerconf/internal/scripts"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// ReportFunc returns the report of the startup script run, if one happened.
type ReportFunc func() (scripts.Report, bool)

// Handler serves read-only introspection of the resolved configuration.
// Setting values are never exposed, only where they come from.
type Handler struct {
	facade *overlay.Facade
	report ReportFunc

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithScriptReport sets where the startup script report is read from.
func WithScriptReport(fn ReportFunc) HandlerOption {
	return func(h *Handler) {
		h.report = fn
	}
}

// NewHandler constructs a Handler over the given facade.
func NewHandler(facade *overlay.Facade, opts ...HandlerOption) *Handler {
	h := &Handler{
		facade: facade,
		report: func() (scripts.Report, bool) { return scripts.Report{}, false },
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
		Sources:   h.facade.Chain().Len(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListSettings(w http.ResponseWriter, _ *http.Request) {
	names := h.facade.Names()
	resp := settingsResponse{
		Sources:  h.facade.Chain().Paths(),
		Settings: make([]settingOrigin, 0, len(names)),
	}
	for _, name := range names {
		origin, err := h.facade.Origin(name)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		resp.Settings = append(resp.Settings, settingOrigin{Name: name, Origin: origin})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	origin, err := h.facade.Origin(name)
	if err != nil {
		if errors.Is(err, overlay.ErrAttributeNotFound) {
			writeError(w, http.StatusNotFound, "Setting not found", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	resp := settingOrigin{
		Name:     name,
		Origin:   origin,
		Shadowed: h.facade.Shadowed(name),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStartupScripts(w http.ResponseWriter, _ *http.Request) {
	report, ok := h.report()
	if !ok {
		writeError(w, http.StatusNotFound, "No startup script run", "startup scripts were skipped or have not run yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type settingOrigin struct {
	Name     string   `json:"name"`
	Origin   string   `json:"origin"`
	Shadowed []string `json:"shadowed,omitempty"`
}

type settingsResponse struct {
	Sources  []string        `json:"sources"`
	Settings []settingOrigin `json:"settings"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Sources   int       `json:"sources"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
