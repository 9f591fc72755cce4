// front_end.go adapts Controller's Go API onto the small HTTP+WebSocket
// control-plane described in SPEC_FULL.md #6, the Go-native replacement for
// the original Tauri IPC boundary. JSON field casing matches model's
// camelCase convention so the same GUI-side contract holds.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
)

// FrontEnd is the HTTP+WebSocket adapter in front of a Controller.
type FrontEnd struct {
	controller *Controller
	upgrader   websocket.Upgrader
}

// NewFrontEnd wraps controller; its Handler method builds the http.Handler
// exposing the routes of SPEC_FULL.md #6.
func NewFrontEnd(controller *Controller) *FrontEnd {
	return &FrontEnd{
		controller: controller,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Handler builds the mux routing every control-surface route to its handler.
func (f *FrontEnd) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/server/start", f.handleStart)
	mux.HandleFunc("/api/server/stop", f.handleStop)
	mux.HandleFunc("/api/server/status", f.handleStatus)
	mux.HandleFunc("/api/variables/reload", f.handleReload)
	mux.HandleFunc("/api/variables/", f.handleUpdateVariable) // PATCH /api/variables/{id}
	mux.HandleFunc("/api/variables", f.handleGetVariables)
	mux.HandleFunc("/api/store/clear", f.handleClear)
	mux.HandleFunc("/api/telemetry/stream", f.handleTelemetryStream)
	return mux
}

type startRequest struct {
	Profile   model.ConnectionProfile `json:"profile"`
	Variables []model.Variable        `json:"variables"`
}

func (f *FrontEnd) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	status, err := f.controller.StartServer(r.Context(), req.Profile, req.Variables)
	if err != nil {
		writeError(w, statusCodeFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (f *FrontEnd) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := f.controller.StopServer(r.Context())
	if err != nil {
		writeError(w, statusCodeFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (f *FrontEnd) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, f.controller.GetServerStatus())
}

func (f *FrontEnd) handleGetVariables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, f.controller.GetVariables())
}

func (f *FrontEnd) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var vars []model.Variable
	if err := json.NewDecoder(r.Body).Decode(&vars); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := f.controller.ReloadVariables(vars); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *FrontEnd) handleUpdateVariable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Path[len("/api/variables/"):]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing variable id")
		return
	}

	var body struct {
		Value model.Value `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if _, err := f.controller.UpdateVariable(id, body.Value); err != nil {
		writeError(w, statusCodeFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *FrontEnd) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := f.controller.ClearDataStore(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTelemetryStream streams LogEntry JSON objects as they are emitted.
// Ref: SPEC_FULL.md #6 "GET /api/telemetry/stream".
func (f *FrontEnd) handleTelemetryStream(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	entries, cancel := f.controller.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-entries:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}

func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, common.ErrVariableNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrServerAlreadyRunning), errors.Is(err, common.ErrServerNotRunning):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
