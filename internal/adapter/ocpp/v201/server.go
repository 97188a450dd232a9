package v201

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-csms/internal/ports"
)

// Config is the OCPP endpoint configuration.
type Config struct {
	PathPrefix          string
	HeartbeatInterval   time.Duration
	LivenessWindow      time.Duration
	MaxMissedWindows    int // consecutive empty windows before closing; 0 never closes
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	CommandTimeout      time.Duration
	CollaboratorTimeout time.Duration
	ShutdownGrace       time.Duration
	SendQueueSize       int
	ProtocolDebug       bool
	RegistryShards      int
	CompletedHistory    int
	Security            *SecurityConfig
}

func DefaultConfig() Config {
	return Config{
		PathPrefix:          "/",
		HeartbeatInterval:   300 * time.Second,
		LivenessWindow:      60 * time.Second,
		MaxMissedWindows:    10,
		PingInterval:        20 * time.Second,
		WriteTimeout:        10 * time.Second,
		CommandTimeout:      30 * time.Second,
		CollaboratorTimeout: 5 * time.Second,
		ShutdownGrace:       10 * time.Second,
		SendQueueSize:       64,
		RegistryShards:      16,
		CompletedHistory:    32,
		Security:            DefaultSecurityConfig(),
	}
}

// Server is the central-system side of the OCPP-J websocket protocol.
type Server struct {
	cfg           Config
	deviceService ports.DeviceService
	txService     ports.TransactionService
	log           *zap.Logger
	tracer        trace.Tracer

	registry *Registry
	pending  *PendingTable
	actions  *ActionRegistry
	security *SecurityManager
	upgrader websocket.Upgrader

	baseCtx    context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	closing    bool
	wg         sync.WaitGroup
	janitor    sync.Once
	httpServer *http.Server
}

func NewServer(cfg Config, deviceService ports.DeviceService, txService ports.TransactionService, log *zap.Logger) *Server {
	if cfg.Security == nil {
		cfg.Security = DefaultSecurityConfig()
	}
	if !strings.HasSuffix(cfg.PathPrefix, "/") {
		cfg.PathPrefix += "/"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	security := NewSecurityManager(cfg.Security, log)

	s := &Server{
		cfg:           cfg,
		deviceService: deviceService,
		txService:     txService,
		log:           log,
		tracer:        otel.Tracer("ocpp/v201"),
		registry:      NewRegistry(cfg.RegistryShards, log),
		pending:       NewPendingTable(),
		actions:       NewActionRegistry(),
		security:      security,
		baseCtx:       ctx,
		cancel:        cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     security.CheckOrigin,
		},
	}
	s.registerHandlers()
	return s
}

func (s *Server) Registry() *Registry { return s.registry }

// Handler returns the websocket endpoint, mounted at the configured prefix.
func (s *Server) Handler() http.Handler {
	s.janitor.Do(func() { go s.runJanitor() })

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.PathPrefix, s.handleConnection)
	return mux
}

// Start serves the websocket endpoint until Shutdown is called.
func (s *Server) Start(addr string) error {
	tlsConfig, err := s.security.TLSConfig()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("OCPP server listening", zap.String("addr", addr), zap.String("path", s.cfg.PathPrefix))

	if tlsConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting chargers, signals every connection to stop and
// waits up to the shutdown grace period before force-closing the rest.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
		return err
	case <-grace.C:
	case <-ctx.Done():
	}

	conns := s.registry.Connections()
	s.log.Warn("Shutdown grace elapsed, force-closing connections", zap.Int("count", len(conns)))
	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
	return err
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	chargePointID, ok := chargerIDFromPath(s.cfg.PathPrefix, r.URL.Path)
	if !ok {
		http.Error(w, "ChargePointID required", http.StatusBadRequest)
		return
	}

	if err := s.security.ValidateChargePoint(chargePointID, r); err != nil {
		http.Error(w, "charge point not authorized", http.StatusForbidden)
		return
	}
	if !s.security.CheckRateLimit(r) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	proto, ok := s.security.NegotiateSubprotocol(websocket.Subprotocols(r))
	if !ok {
		s.log.Warn("Handshake rejected: no supported subprotocol",
			zap.String("charger_id", chargePointID),
			zap.Strings("offered", websocket.Subprotocols(r)),
		)
		http.Error(w, "unsupported subprotocol", http.StatusBadRequest)
		return
	}
	if proto == "" {
		s.log.Warn("Charge point did not negotiate a subprotocol", zap.String("charger_id", chargePointID))
	}

	if !s.begin() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	var header http.Header
	if proto != "" {
		header = http.Header{"Sec-WebSocket-Protocol": {proto}}
	}
	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.log.Error("Failed to upgrade websocket", zap.String("charger_id", chargePointID), zap.Error(err))
		return
	}

	s.security.RegisterConnection(r)
	defer s.security.UnregisterConnection(r)

	conn, err := NewConnection(chargePointID, ws, ConnectionConfig{
		LivenessWindow: s.cfg.LivenessWindow,
		PingInterval:   s.cfg.PingInterval,
		WriteTimeout:   s.cfg.WriteTimeout,
		SendQueueSize:  s.cfg.SendQueueSize,
		ProtocolDebug:  s.cfg.ProtocolDebug,
		MaxHistory:     s.cfg.CompletedHistory,
	}, s.log)
	if err != nil {
		s.log.Error("Failed to create connection", zap.Error(err))
		return
	}

	s.serve(conn)
}

// begin registers an in-flight connection unless the server is closing.
func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) serve(conn *Connection) {
	id := conn.ID()

	s.registry.Register(id, conn)
	conn.Start()
	s.log.Info("New OCPP connection", zap.String("charger_id", id))
	s.collaborate(s.baseCtx, func(ctx context.Context) error {
		return s.deviceService.RecordConnection(ctx, id, true)
	}, id, "record connection")

	defer func() {
		conn.Close(websocket.CloseNormalClosure, "")
		if s.registry.Unregister(id, conn) {
			s.collaborate(s.baseCtx, func(ctx context.Context) error {
				return s.deviceService.RecordConnection(ctx, id, false)
			}, id, "record disconnection")
		}
		s.log.Info("OCPP connection closed", zap.String("charger_id", id), zap.Stringer("state", conn.State()))
	}()

	s.receiveLoop(s.baseCtx, conn)
}

// receiveLoop processes one frame at a time so replies keep the charger's order.
func (s *Server) receiveLoop(ctx context.Context, conn *Connection) {
	missed := 0
	for {
		data, err := conn.Receive(ctx)
		switch {
		case err == nil:
			missed = 0
		case errors.Is(err, ErrReceiveTimeout):
			missed++
			s.log.Debug("No traffic within liveness window",
				zap.String("charger_id", conn.ID()),
				zap.Int("missed", missed),
			)
			if s.cfg.MaxMissedWindows > 0 && missed >= s.cfg.MaxMissedWindows {
				telemetry.OCPPErrorsTotal.WithLabelValues("liveness").Inc()
				s.log.Warn("Liveness expired, closing connection",
					zap.String("charger_id", conn.ID()),
					zap.Int("missed_windows", missed),
				)
				return
			}
			continue
		default:
			if errors.Is(err, ErrConnectionFaulted) {
				telemetry.OCPPErrorsTotal.WithLabelValues("transport").Inc()
			}
			return
		}

		s.dispatch(ctx, conn, data)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *Connection, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		telemetry.OCPPErrorsTotal.WithLabelValues("malformed").Inc()
		s.log.Warn("Dropping malformed message",
			zap.String("charger_id", conn.ID()),
			zap.Error(err),
		)
		return
	}

	switch msg.Type {
	case Call:
		s.handleAction(ctx, conn, msg)
	case CallResult, CallError:
		s.handleReply(conn, msg)
	}
}

func (s *Server) runJanitor() {
	interval := s.cfg.CommandTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case now := <-ticker.C:
			for _, req := range s.pending.Sweep(now, 2*s.cfg.CommandTimeout) {
				s.log.Warn("Expired pending command",
					zap.String("charger_id", req.ChargerID),
					zap.String("action", req.Action),
					zap.String("message_id", req.ID),
				)
			}
			s.refreshGauges()
		}
	}
}

func (s *Server) refreshGauges() {
	conns := s.registry.Connections()
	open := 0
	for _, c := range conns {
		open += len(c.Ledger().OpenTransactionIDs())
	}
	telemetry.ConnectedChargers.Set(float64(len(conns)))
	telemetry.ActiveChargingSessions.Set(float64(open))
	telemetry.PendingCommands.Set(float64(s.pending.Len()))
}

// chargerIDFromPath returns the path remainder after prefix, without
// surrounding separators.
func chargerIDFromPath(prefix, path string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	id := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	return id, id != ""
}
