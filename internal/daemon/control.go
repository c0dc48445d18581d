package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CredentialWriter is the writable side of the credential store.
type CredentialWriter interface {
	Set(token string)
	Get() string
}

// StatusProvider reports scheduler status.
type StatusProvider interface {
	Status() Status
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status
	RecentEvents []Event `json:"recent_events"`
}

type credentialRequest struct {
	Token string `json:"token"`
}

// ControlServer is the loopback HTTP surface used by the CLI to hand the
// daemon a credential and to read its status.
//
// Browsers are locked out: any request carrying an Origin header is
// refused, and POST /credential only accepts application/json, which a
// page cannot send cross-origin without a preflight this server never
// answers. When a secret is set, /credential and /status also require
// "Authorization: Bearer <secret>".
type ControlServer struct {
	addr        string
	credentials CredentialWriter
	status      StatusProvider
	events      *EventBuffer // optional
	metrics     http.Handler // optional
	secret      string       // optional
	logger      *zap.Logger

	server   *http.Server
	listener net.Listener
}

// NewControlServer creates a server for addr. events and metricsHandler may be nil.
func NewControlServer(
	addr string,
	credentials CredentialWriter,
	status StatusProvider,
	events *EventBuffer,
	metricsHandler http.Handler,
	logger *zap.Logger,
) *ControlServer {
	return &ControlServer{
		addr:        addr,
		credentials: credentials,
		status:      status,
		events:      events,
		metrics:     metricsHandler,
		logger:      logger,
	}
}

// WithSecret requires callers of /credential and /status to present secret.
func (c *ControlServer) WithSecret(secret string) *ControlServer {
	c.secret = secret
	return c
}

// Handler returns the request router.
func (c *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /credential", c.authorized(c.handleSetCredential))
	mux.HandleFunc("DELETE /credential", c.authorized(c.handleClearCredential))
	mux.HandleFunc("GET /status", c.authorized(c.handleStatus))
	if c.metrics != nil {
		mux.Handle("GET /metrics", c.metrics)
	}
	return rejectBrowsers(mux, c.logger)
}

func rejectBrowsers(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			logger.Warn("rejected control request from browser origin",
				zap.String("origin", origin),
				zap.String("path", r.URL.Path))
			http.Error(w, "cross-origin requests are not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *ControlServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.secret != "" && !secretMatches(r.Header.Get("Authorization"), c.secret) {
			c.logger.Warn("rejected control request without valid secret", zap.String("path", r.URL.Path))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start binds the listener and serves in the background.
func (c *ControlServer) Start() error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return err
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.logger.Info("control server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (c *ControlServer) Addr() string {
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.addr
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (c *ControlServer) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

func (c *ControlServer) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	c.credentials.Set(req.Token)
	c.logger.Info("credential updated")
	w.WriteHeader(http.StatusNoContent)
}

func (c *ControlServer) handleClearCredential(w http.ResponseWriter, r *http.Request) {
	c.credentials.Set("")
	c.logger.Info("credential cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (c *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:       c.status.Status(),
		RecentEvents: []Event{},
	}
	if c.events != nil {
		resp.RecentEvents = c.events.Recent()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		c.logger.Warn("failed to write status", zap.Error(err))
	}
}
