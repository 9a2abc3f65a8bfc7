// Package ws serves the live editing websocket endpoint.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/collab-studio/internal/dispatch"
	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/metrics"
	"github.com/and161185/collab-studio/internal/session"
)

// Validator admits a connection by consuming its handshake token.
type Validator interface {
	ValidateWithIP(ctx context.Context, id uuid.UUID, designID, user, secret, ip string) (int64, error)
}

// Options tunes websocket connections.
type Options struct {
	SendQueue       int
	WriteTimeout    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		SendQueue:       256,
		WriteTimeout:    10 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
}

// Handler upgrades validated requests and runs them as session members.
type Handler struct {
	tokens   Validator
	mgr      *session.Manager
	disp     *dispatch.Dispatcher
	log      *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler constructs Handler. m may be nil.
func NewHandler(tokens Validator, mgr *session.Manager, disp *dispatch.Dispatcher, log *zap.Logger, m *metrics.Metrics, opts Options) *Handler {
	def := DefaultOptions()
	if opts.SendQueue <= 0 {
		opts.SendQueue = def.SendQueue
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	return &Handler{
		tokens:  tokens,
		mgr:     mgr,
		disp:    disp,
		log:     log,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// NewRouter mounts the websocket endpoint with health and metrics.
func NewRouter(h *Handler, reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/designs/{designId}/ws", h).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// ServeHTTP validates the token carried in the query, upgrades the connection
// and serves it until the peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designId"]
	q := r.URL.Query()
	user := q.Get("user")

	id, err := uuid.FromString(q.Get("uuid"))
	if err != nil || designID == "" || user == "" {
		h.metrics.ObserveHandshake("invalid")
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	since, err := h.tokens.ValidateWithIP(r.Context(), id, designID, user, q.Get("secret"), remoteIP(r))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrRateLimited):
			h.metrics.ObserveHandshake("rate_limited")
			http.Error(w, "too many attempts", http.StatusTooManyRequests)
		case errors.Is(err, errs.ErrSessionNotFound):
			h.metrics.ObserveHandshake("invalid")
			http.Error(w, "invalid session token", http.StatusUnauthorized)
		default:
			h.metrics.ObserveHandshake("error")
			h.log.Error("token validation failed", zap.String("design_id", designID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	h.metrics.ObserveHandshake("ok")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		h.log.Warn("websocket upgrade failed", zap.String("design_id", designID), zap.Error(err))
		return
	}
	h.serve(r.Context(), conn, designID, user, since)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, designID, user string, since int64) {
	c := newClient(conn, h.opts, h.log.With(zap.String("design_id", designID), zap.String("user", user)))
	go c.writePump()
	defer c.Close()

	es, err := h.mgr.Join(ctx, designID, c, user, h.disp.Admit(ctx, c, user, since))
	if err != nil {
		c.log.Warn("join failed", zap.Error(err))
		return
	}
	h.metrics.ClientConnected()
	c.log.Info("client joined", zap.Int64("since", since))

	c.readPump(func(msg []byte) {
		_ = h.disp.Dispatch(ctx, es, c, msg)
	})

	// the request context may already be canceled here
	leaveCtx := context.WithoutCancel(ctx)
	h.disp.Leave(leaveCtx, es, c, user)
	h.mgr.Leave(leaveCtx, es, c)
	h.metrics.ClientDisconnected()
	c.log.Info("client left")
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
