// Package control implements the seven control-surface operations of
// SPEC_FULL.md #6 as a Go API (Controller), independent of any transport.
// The HTTP+WebSocket front end in front_end.go is a thin adapter over it.
package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/server"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/store"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/telemetry"
)

// Controller fronts the start/stop/status/variable operations for a single
// TCPServer + Store pair. Safe for concurrent use.
type Controller struct {
	mu        sync.RWMutex
	srv       *server.TCPServer
	store     *store.Store
	hub       *telemetry.Hub
	logger    common.LoggerInterface
	profile   model.ConnectionProfile
	extraOpts []server.TCPServerOption

	lastError error
}

// New creates a Controller wrapping a freshly-built, not-yet-started server.
// opts is retained and re-applied every time StartServer rebuilds the
// underlying TCPServer, so caller-supplied options (e.g. WithServerMetrics)
// survive a stop/start cycle.
func New(logger common.LoggerInterface, hub *telemetry.Hub, opts ...server.TCPServerOption) *Controller {
	st := store.New()
	profile := model.DefaultConnectionProfile()

	allOpts := append([]server.TCPServerOption{
		server.WithServerPort(int(profile.Port)),
		server.WithServerUnitID(common.UnitID(profile.UnitID)),
		server.WithServerLogger(logger),
		server.WithServerDataStore(st),
		server.WithServerTelemetry(hub),
	}, opts...)

	return &Controller{
		srv:       server.NewTCPServer(profile.Host, allOpts...),
		store:     st,
		hub:       hub,
		logger:    logger,
		profile:   profile,
		extraOpts: opts,
	}
}

// StartServer loads vars into the store, rebinds the listener to profile,
// and starts the server. Ref: SPEC_FULL.md #6 "start_server".
func (c *Controller) StartServer(ctx context.Context, profile model.ConnectionProfile, vars []model.Variable) (model.ServerStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.srv.IsRunning() {
		return c.statusLocked(), common.ErrServerAlreadyRunning
	}

	c.store.LoadVariables(vars)
	c.profile = profile

	baseOpts := []server.TCPServerOption{
		server.WithServerPort(int(profile.Port)),
		server.WithServerUnitID(common.UnitID(profile.UnitID)),
		server.WithServerLogger(c.logger),
		server.WithServerDataStore(c.store),
		server.WithServerTelemetry(c.hub),
	}
	c.srv = server.NewTCPServer(profile.Host, append(baseOpts, c.extraOpts...)...)

	if err := c.srv.Start(ctx); err != nil {
		c.lastError = err
		return c.statusLocked(), err
	}
	c.lastError = nil
	return c.statusLocked(), nil
}

// StopServer broadcasts shutdown. Ref: SPEC_FULL.md #6 "stop_server".
func (c *Controller) StopServer(ctx context.Context) (model.ServerStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.srv.IsRunning() {
		return c.statusLocked(), common.ErrServerNotRunning
	}
	if err := c.srv.Stop(ctx); err != nil {
		c.lastError = err
		return c.statusLocked(), err
	}
	return c.statusLocked(), nil
}

// GetServerStatus returns the current status snapshot.
// Ref: SPEC_FULL.md #6 "get_server_status".
func (c *Controller) GetServerStatus() model.ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() model.ServerStatus {
	status := model.ServerStatus{
		Running:          c.srv.IsRunning(),
		Host:             c.profile.Host,
		Port:             c.profile.Port,
		UnitID:           c.profile.UnitID,
		ConnectionsCount: len(c.srv.ConnectedClients()),
	}
	if c.lastError != nil {
		msg := c.lastError.Error()
		status.Error = &msg
	}
	return status
}

// UpdateVariable mutates the catalog entry and its bank cells by id.
// Ref: SPEC_FULL.md #6 "update_variable".
func (c *Controller) UpdateVariable(id string, value model.Value) (bool, error) {
	if ok := c.store.UpdateVariable(id, value); !ok {
		return false, fmt.Errorf("control: %w: %s", common.ErrVariableNotFound, id)
	}
	return true, nil
}

// GetVariables returns a snapshot of the catalog.
// Ref: SPEC_FULL.md #6 "get_variables".
func (c *Controller) GetVariables() []model.Variable {
	return c.store.GetVariables()
}

// ReloadVariables replaces the catalog and defined-sets without restarting
// the server. Ref: SPEC_FULL.md #6 "reload_variables".
func (c *Controller) ReloadVariables(vars []model.Variable) error {
	c.store.LoadVariables(vars)
	return nil
}

// ClearDataStore resets every bank and the catalog.
// Ref: SPEC_FULL.md #6 "clear_data_store".
func (c *Controller) ClearDataStore() error {
	c.store.Clear()
	return nil
}

// Subscribe exposes the telemetry hub's live LogEntry feed for the
// WebSocket front end.
func (c *Controller) Subscribe() (<-chan model.LogEntry, func()) {
	return c.hub.Subscribe()
}
