package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	Addr string
	// ReplyTimeout bounds how long a request waits for its reply.
	ReplyTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Logger  logging.Logger
}

// MessageRequest is the body of POST /v1/messages.
type MessageRequest struct {
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MessageResponse is the reply to POST /v1/messages.
type MessageResponse struct {
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
	Author        string `json:"author,omitempty"`
	Text          string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPClient exposes the relay as a JSON API. Each request gets a
// correlation id; the reply carrying that id completes the request.
type HTTPClient struct {
	opts   HTTPOptions
	router chi.Router

	mu      sync.RWMutex
	handler core.MessageHandler

	pendingMu sync.Mutex
	pending   map[string]chan core.Turn

	readyOnce sync.Once
	ready     chan struct{}
	addr      net.Addr
}

// NewHTTP creates an HTTP client listening on :8080 by default.
func NewHTTP(optFns ...func(o *HTTPOptions)) *HTTPClient {
	opts := HTTPOptions{
		Addr:            ":8080",
		ReplyTimeout:    5 * time.Minute,
		ShutdownTimeout: 5 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	c := &HTTPClient{
		opts:    opts,
		pending: make(map[string]chan core.Turn),
		ready:   make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", c.handleHealth)
	r.Post("/v1/messages", c.handleMessage)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	c.router = r
	return c
}

// Name implements core.Client.
func (c *HTTPClient) Name() string { return "http" }

// Handler returns the HTTP handler, for embedding or tests.
func (c *HTTPClient) Handler() http.Handler { return c.router }

// OnMessage implements core.Client.
func (c *HTTPClient) OnMessage(h core.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// SendMessage implements core.Client. Replies without a pending
// correlation id are dropped with a warning.
func (c *HTTPClient) SendMessage(_ context.Context, turn core.Turn) error {
	corr := turn.Meta(core.MetadataCorrelationID)
	c.pendingMu.Lock()
	ch, ok := c.pending[corr]
	if ok {
		delete(c.pending, corr)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.opts.Logger.Warn("dropping reply without pending request", "client", c.Name(), "correlation_id", corr, "session_id", turn.SessionID())
		return fmt.Errorf("no pending request for correlation id %q", corr)
	}
	ch <- turn
	return nil
}

// Start implements core.Client. It serves until ctx is done and then shuts
// down gracefully.
func (c *HTTPClient) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.opts.Addr, err)
	}
	c.readyOnce.Do(func() {
		c.addr = ln.Addr()
		close(c.ready)
	})

	srv := &http.Server{Handler: c.router, ReadHeaderTimeout: 10 * time.Second}
	serverErrors := make(chan error, 1)
	go func() {
		c.opts.Logger.Info("http client listening", "addr", ln.Addr().String())
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.opts.Logger.Warn("graceful shutdown did not complete", "error", err)
			_ = srv.Close()
		}
		return ctx.Err()
	}
}

// Addr blocks until Start is listening and returns the bound address.
func (c *HTTPClient) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-c.ready:
		return c.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *HTTPClient) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *HTTPClient) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if body.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text must not be empty"})
		return
	}

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no message handler registered"})
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = core.NewID()
	}
	corr := core.NewID()

	turn := core.NewUserTurn(body.Text)
	for k, v := range body.Metadata {
		turn = turn.WithMetadata(k, v)
	}
	turn = turn.WithMetadata(core.MetadataSessionID, sessionID).
		WithMetadata(core.MetadataCorrelationID, corr)

	replies := make(chan core.Turn, 1)
	c.pendingMu.Lock()
	c.pending[corr] = replies
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, corr)
		c.pendingMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(r.Context(), c.opts.ReplyTimeout)
	defer cancel()

	handled := make(chan error, 1)
	go func() { handled <- h(ctx, turn) }()

	for {
		select {
		case reply := <-replies:
			writeJSON(w, http.StatusOK, MessageResponse{
				SessionID:     sessionID,
				CorrelationID: corr,
				Author:        reply.Author,
				Text:          reply.Text(),
			})
			return
		case err := <-handled:
			handled = nil
			if err != nil {
				c.opts.Logger.Error("message handling failed", "client", c.Name(), "correlation_id", corr, "error", err)
				writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
				return
			}
		case <-ctx.Done():
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "timed out waiting for reply"})
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
