package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"epochvault/core"
	"epochvault/core/epoch"
	"epochvault/core/events"
	"epochvault/crypto"
)

// Backend is the transactional surface the API drives.
type Backend interface {
	Update(ctx context.Context, op string, fn func(tx *core.Tx) error) error
	View(ctx context.Context, fn func(tx *core.Tx) error) error
	Feed() *events.Feed
	Clock() epoch.Clock
	Airdrop(ctx context.Context, faucet, owner, underlying crypto.Address, native, amount uint64) (crypto.Address, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Backend  Backend
	Auth     *Authenticator
	Limiter  *RateLimiter
	Genesis  core.GenesisAddresses
	Faucet   crypto.Address
	Operator crypto.Address
	// DevFaucet exposes POST /v1/faucet. Never enable outside development.
	DevFaucet bool
	Logger    *slog.Logger
}

// Server serves the vault HTTP API.
type Server struct {
	backend   Backend
	auth      *Authenticator
	limiter   *RateLimiter
	genesis   core.GenesisAddresses
	faucet    crypto.Address
	operator  crypto.Address
	devFaucet bool
	logger    *slog.Logger

	router http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		backend:   cfg.Backend,
		auth:      cfg.Auth,
		limiter:   cfg.Limiter,
		genesis:   cfg.Genesis,
		faucet:    cfg.Faucet,
		operator:  cfg.Operator,
		devFaucet: cfg.DevFaucet,
		logger:    logger,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware("read"))
			read.Get("/info", s.handleInfo)
			read.Get("/events", s.handleEvents)
			read.Get("/vaults", s.handleListVaults)
			read.Get("/vaults/{name}", s.handleGetVault)
			read.Get("/vaults/{name}/pool", s.handlePool)
			read.Get("/vaults/{name}/phase", s.handlePhase)
			read.Get("/vaults/{name}/positions/{owner}", s.handlePosition)
		})
		api.Group(func(write chi.Router) {
			write.Use(s.limiter.Middleware("write"))
			write.Use(s.auth.Middleware)
			write.Post("/vaults", s.handleCreateVault)
			write.Post("/vaults/{name}/claim-account", s.handleOpenClaimAccount)
			write.Post("/vaults/{name}/deposit", s.handleDeposit)
			write.Post("/vaults/{name}/withdraw", s.handleWithdraw)
			write.Post("/vaults/{name}/rollover", s.handleRollover)
			if s.devFaucet {
				write.Post("/faucet", s.handleFaucet)
			}
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
