package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/codec"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/logging"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/metrics"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/store"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/telemetry"
)

// TCPServer implements a Modbus TCP slave simulator.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4 (Modbus Protocol Description)
// Ref: Modbus_Messaging_Implementation_Guide_V1_0b.pdf, Section 3 (Modbus TCP/IP Protocol)
// Ref: SPEC_FULL.md #4.3 (Connection handling), #4.4 (Dispatch)
type TCPServer struct {
	// Server binding configuration
	address  string
	port     int
	unitID   common.UnitID
	listener net.Listener

	// Data storage and request dispatch
	defaultStore common.DataStore
	dispatcher   *dispatcher

	// Telemetry fan-out; never nil once constructed.
	telemetry *telemetry.Hub

	// Metrics is optional; nil means no Prometheus collectors are updated.
	metrics *metrics.Metrics

	// Lifecycle callbacks, primarily for embedders and tests.
	onClientConnect    func(ConnectedClient)
	onClientDisconnect func(ConnectedClient)

	// Server state
	running      bool
	clients      map[string]*clientConn
	clientsMutex sync.RWMutex
	mutex        sync.RWMutex
	logger       common.LoggerInterface
	stopChan     chan struct{}
}

// TCPServerOption is a function type for configuring a TCPServer
type TCPServerOption func(*TCPServer)

// WithServerPort sets the TCP port for the server
func WithServerPort(port int) TCPServerOption {
	return func(s *TCPServer) {
		s.port = port
	}
}

// WithServerUnitID sets the unit id the server answers. Requests addressed
// to any other non-zero unit id are silently dropped.
// Ref: SPEC_FULL.md #4.3 - unit id filter.
func WithServerUnitID(unitID common.UnitID) TCPServerOption {
	return func(s *TCPServer) {
		s.unitID = unitID
	}
}

// WithServerLogger sets the logger for the TCP server
func WithServerLogger(logger common.LoggerInterface) TCPServerOption {
	return func(s *TCPServer) {
		s.logger = logger
	}
}

// WithServerDataStore sets the data store for the TCP server
func WithServerDataStore(dataStore common.DataStore) TCPServerOption {
	return func(s *TCPServer) {
		s.defaultStore = dataStore
	}
}

// WithServerTelemetry attaches a telemetry hub built by the caller, e.g. one
// shared with the control surface's WebSocket subscribers.
func WithServerTelemetry(hub *telemetry.Hub) TCPServerOption {
	return func(s *TCPServer) {
		s.telemetry = hub
	}
}

// WithServerMetrics attaches a Metrics bundle whose collectors are updated
// as requests, exceptions, and connections occur.
func WithServerMetrics(m *metrics.Metrics) TCPServerOption {
	return func(s *TCPServer) {
		s.metrics = m
	}
}

// WithOnClientConnect registers a callback invoked after a client connects.
func WithOnClientConnect(fn func(ConnectedClient)) TCPServerOption {
	return func(s *TCPServer) {
		s.onClientConnect = fn
	}
}

// WithOnClientDisconnect registers a callback invoked after a client disconnects.
func WithOnClientDisconnect(fn func(ConnectedClient)) TCPServerOption {
	return func(s *TCPServer) {
		s.onClientDisconnect = fn
	}
}

// NewTCPServer creates a new Modbus TCP server
func NewTCPServer(address string, options ...TCPServerOption) *TCPServer {
	s := &TCPServer{
		address:      address,
		port:         common.DefaultTCPPort,
		unitID:       1,
		defaultStore: store.New(),
		logger:       logging.NewLogger(),
		clients:      make(map[string]*clientConn),
	}

	for _, option := range options {
		option(s)
	}

	if s.telemetry == nil {
		s.telemetry = telemetry.NewHub(s.logger)
	}
	s.dispatcher = newDispatcher(s.defaultStore)

	return s
}

// WithLogger sets the logger for the server
func (s *TCPServer) WithLogger(logger common.LoggerInterface) common.Server {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.logger = logger
	return s
}

// WithDataStore sets the data store for the server
func (s *TCPServer) WithDataStore(dataStore common.DataStore) common.Server {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.defaultStore = dataStore
	s.dispatcher = newDispatcher(dataStore)
	return s
}

// Start starts the server
func (s *TCPServer) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return common.ErrServerAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mutex.Unlock()
		return err
	}

	s.listener = listener
	s.running = true
	s.stopChan = make(chan struct{})
	s.mutex.Unlock()

	s.logger.Info(ctx, "Modbus TCP server started on %s, unit id %d", addr, s.unitID)
	s.telemetry.Publish(model.LogEntry{
		ID: s.telemetry.NextID(), Timestamp: time.Now().Format(time.RFC3339Nano),
		EntryType: model.EntryTypeInfo, Summary: fmt.Sprintf("server started on %s", addr),
	})

	go s.acceptLoop(ctx)

	return nil
}

// Stop stops the server
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}

	close(s.stopChan)

	if s.listener != nil {
		s.listener.Close()
	}

	s.clientsMutex.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[string]*clientConn)
	s.clientsMutex.Unlock()

	s.running = false
	s.logger.Info(ctx, "Modbus TCP server stopped")
	s.telemetry.Publish(model.LogEntry{
		ID: s.telemetry.NextID(), Timestamp: time.Now().Format(time.RFC3339Nano),
		EntryType: model.EntryTypeInfo, Summary: "server stopped",
	})
	return nil
}

// IsRunning returns true if the server is running
func (s *TCPServer) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// ConnectedClients returns a snapshot of every currently connected client.
func (s *TCPServer) ConnectedClients() []ConnectedClient {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	out := make([]ConnectedClient, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, ConnectedClient{
			ID:                c.id,
			RemoteAddr:        c.remoteAddr,
			ConnectedAt:       c.connectedAt,
			RxTransactions:    c.rxCount.Load(),
			TxTransactions:    c.txCount.Load(),
			FunctionCodeStats: fcSnapshot(c),
		})
	}
	return out
}

// acceptLoop accepts incoming connections until Stop is called.
func (s *TCPServer) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if tcpListener, ok := s.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(time.Second))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if opErr, ok := err.(*net.OpError); ok && opErr.Timeout() {
				continue
			}
			select {
			case <-s.stopChan:
				return
			default:
				s.logger.Error(ctx, "error accepting connection: %v", err)
				continue
			}
		}

		client := newClientConn(conn)

		s.clientsMutex.Lock()
		s.clients[client.id] = client
		s.clientsMutex.Unlock()

		s.logger.Info(ctx, "client connected: %s", client.remoteAddr)
		s.telemetry.Publish(model.LogEntry{
			ID: s.telemetry.NextID(), Timestamp: time.Now().Format(time.RFC3339Nano),
			EntryType: model.EntryTypeInfo, ClientAddr: client.remoteAddr,
			Summary: "client connected",
		})
		if s.onClientConnect != nil {
			s.onClientConnect(ConnectedClient{ID: client.id, RemoteAddr: client.remoteAddr, ConnectedAt: client.connectedAt})
		}
		if s.metrics != nil {
			s.metrics.ConnectionOpened()
		}

		go s.handleConnection(ctx, client)
	}
}

// handleConnection reassembles the byte stream into ADUs and dispatches each
// one, keeping per-client statistics and emitting telemetry.
// Ref: SPEC_FULL.md #4.3 - growable-buffer reassembly with resync on malformed
// frames; frames addressed to any other non-zero unit id are dropped silently.
func (s *TCPServer) handleConnection(ctx context.Context, client *clientConn) {
	remoteAddr := client.remoteAddr
	defer func() {
		s.clientsMutex.Lock()
		delete(s.clients, client.id)
		s.clientsMutex.Unlock()

		client.conn.Close()
		s.logger.Info(ctx, "client disconnected: %s", remoteAddr)
		s.telemetry.Publish(model.LogEntry{
			ID: s.telemetry.NextID(), Timestamp: time.Now().Format(time.RFC3339Nano),
			EntryType: model.EntryTypeInfo, ClientAddr: remoteAddr,
			Summary: "client disconnected",
		})
		if s.onClientDisconnect != nil {
			s.onClientDisconnect(ConnectedClient{
				ID:                client.id,
				RemoteAddr:        client.remoteAddr,
				ConnectedAt:       client.connectedAt,
				RxTransactions:    client.rxCount.Load(),
				TxTransactions:    client.txCount.Load(),
				FunctionCodeStats: fcSnapshot(client),
			})
		}
		if s.metrics != nil {
			s.metrics.ConnectionClosed()
		}
	}()

	var buf []byte
	chunk := make([]byte, common.ReadChunkSize)

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := client.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return // EOF or a closed-connection error: normal disconnect
		}

		for {
			expected, ok := codec.ExpectedFrameLength(buf)
			if !ok || len(buf) < expected {
				break
			}

			frameBytes := buf[:expected]
			buf = buf[expected:]

			frame, err := codec.ParseFrame(frameBytes)
			if err != nil {
				s.logger.Error(ctx, "malformed frame from %s: %v", remoteAddr, err)
				s.telemetry.Publish(model.LogEntry{
					ID: s.telemetry.NextID(), Timestamp: time.Now().Format(time.RFC3339Nano),
					EntryType: model.EntryTypeError, ClientAddr: remoteAddr,
					Summary: fmt.Sprintf("malformed frame: %v", err),
					RawData: telemetry.HexString(frameBytes),
				})
				buf = nil // resync: discard everything buffered, including what wasn't yet drained
				break
			}

			if frame.Header.UnitID != s.unitID && frame.Header.UnitID != 0 {
				continue // addressed to a different unit id: silently dropped
			}

			s.processFrame(ctx, client, frame, frameBytes)
		}

		if len(buf) > 2*common.MaxFrameSize {
			s.logger.Error(ctx, "frame buffer overflow from %s, resetting", remoteAddr)
			buf = nil
		}
	}
}

// processFrame dispatches one frame, writes its response, and records stats
// and telemetry for both directions.
func (s *TCPServer) processFrame(ctx context.Context, client *clientConn, frame codec.Frame, raw []byte) {
	start := time.Now()

	client.rxCount.Add(1)
	if int(frame.FunctionCode) < len(client.fcCount) {
		client.fcCount[frame.FunctionCode].Add(1)
	}

	fc := uint8(frame.FunctionCode)
	s.telemetry.Publish(model.LogEntry{
		ID: s.telemetry.NextID(), Timestamp: time.Now().Format(time.RFC3339Nano),
		EntryType: model.EntryTypeRequest, ClientAddr: client.remoteAddr,
		FunctionCode: &fc, FunctionName: frame.FunctionCode.String(),
		Summary: fmt.Sprintf("%s request", frame.FunctionCode),
		RawData: telemetry.HexString(raw),
	})

	if s.metrics != nil {
		s.metrics.ObserveRequest(frame.FunctionCode)
	}

	response := s.dispatcher.dispatch(ctx, frame)
	durationUs := uint64(time.Since(start).Microseconds())

	if _, err := client.conn.Write(response); err != nil {
		s.logger.Error(ctx, "error writing response to %s: %v", client.remoteAddr, err)
		return
	}
	client.txCount.Add(1)

	entryType := model.EntryTypeResponse
	summary := fmt.Sprintf("%s response", frame.FunctionCode)
	if codec.IsErrorResponse(response) {
		entryType = model.EntryTypeError
		summary = fmt.Sprintf("%s exception", frame.FunctionCode)
		if s.metrics != nil && len(response) > 8 {
			s.metrics.ObserveException(common.ExceptionCode(response[8]))
		}
	}
	s.telemetry.Publish(model.LogEntry{
		ID: s.telemetry.NextID(), Timestamp: time.Now().Format(time.RFC3339Nano),
		EntryType: entryType, ClientAddr: client.remoteAddr,
		FunctionCode: &fc, FunctionName: frame.FunctionCode.String(),
		Summary: summary, RawData: telemetry.HexString(response), DurationUs: &durationUs,
	})
}
