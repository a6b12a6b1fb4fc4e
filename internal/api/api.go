package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ChatDeskID/WaRelay/internal/dedup"
	"github.com/ChatDeskID/WaRelay/internal/processor"
	"github.com/ChatDeskID/WaRelay/internal/registry"
	"github.com/ChatDeskID/WaRelay/internal/store"
	"github.com/ChatDeskID/WaRelay/internal/whatsapp"
)

// DefaultAddr is the gateway listen address when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the gateway.
type Opts struct {
	Addr        string
	VerifyToken string
}

// Option defines a configuration option for the gateway.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the webhook subscription verify token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// Server is the HTTP gateway. It verifies the webhook handshake,
// acknowledges event deliveries immediately and delegates everything
// else to the processor and the owned components.
type Server struct {
	registry    *registry.Registry
	store       store.EventStore
	dedup       *dedup.Deduplicator
	processor   *processor.Processor
	sender      whatsapp.Sender
	verifyToken string
	httpSrv     *http.Server
	startedAt   time.Time
}

// NewServer wires the gateway routes over the given components.
func NewServer(reg *registry.Registry, st store.EventStore, dd *dedup.Deduplicator, proc *processor.Processor, sender whatsapp.Sender, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		registry:    reg,
		store:       st,
		dedup:       dd,
		processor:   proc,
		sender:      sender,
		verifyToken: cfg.VerifyToken,
		startedAt:   time.Now(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/webhook", s.verifyWebhookHandler).Methods(http.MethodGet)
	router.HandleFunc("/webhook", s.webhookHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/register", s.registerHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/unregister", s.unregisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/send-message", s.sendMessageHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/messages/{phoneNumber}", s.messagesHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/conversations", s.conversationsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/status", s.statusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/clients", s.clientsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/cleanup-clients", s.cleanupClientsHandler).Methods(http.MethodPost)
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: router}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("Gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
