package wsserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/internal/infra/buildinfo"
)

var errBinaryControl = domain.ErrBadRequest.WithDetails("control messages must be text")

// StatsSource reports live sockets and sessions.
type StatsSource interface {
	Stats() (sockets, sessions int)
}

// RouterConfig wires the front door to the worker's components.
type RouterConfig struct {
	// Sessions manages the sockets opened at /ws.
	Sessions Sessions

	// Verifier checks authorize credentials. Required.
	Verifier TokenVerifier

	// Access vets subscriptions. Nil allows every subscription.
	Access AccessChecker

	// Nonces consumes authorize nonces. Nil skips the nonce check.
	Nonces NonceChecker

	// Limiter rate limits new requests. Nil disables rate limiting.
	Limiter RequestLimiter

	// Stats feeds /healthz.
	Stats StatsSource

	// Ready reports whether the worker can serve. Nil means always ready.
	Ready func() bool

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string

	// TrustedProxies may set the client address through forwarding
	// headers.
	TrustedProxies TrustedProxies

	Socket SocketConfig
	Logger *slog.Logger
}

// Router is the HTTP handler of a worker.
type Router struct {
	mux     *http.ServeMux
	sockets *socketHandler
}

// NewRouter builds the HTTP handler of a worker.
func NewRouter(cfg RouterConfig) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", Chain(healthHandler(cfg), RequestID(), Recover(log)))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics, RequestID(), Recover(log)))
	}
	sockets := newSocketHandler(cfg, log)
	mux.Handle("GET /ws", Chain(sockets,
		RequestID(),
		Recover(log),
		RateLimit(cfg.Limiter, cfg.TrustedProxies, log),
	))
	return &Router{mux: mux, sockets: sockets}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

// CloseSockets closes every open websocket with a going-away status.
func (rt *Router) CloseSockets() int {
	return rt.sockets.closeAll("server shutting down")
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sockets  int    `json:"sockets"`
	Sessions int    `json:"sessions"`
}

func healthHandler(cfg RouterConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Version: buildinfo.Version}
		if cfg.Stats != nil {
			resp.Sockets, resp.Sessions = cfg.Stats.Stats()
		}
		status := http.StatusOK
		if cfg.Ready != nil && !cfg.Ready() {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	})
}
