package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/limbo/stakepool/internal/metrics"
)

type Server struct {
	mx          *chi.Mux
	pools       PoolsServiceI
	proofs      ProofsServiceI
	settlement  SettlementServiceI
	leaderboard LeaderboardServiceI
	balances    BalanceReaderI
	jwtService  JWTServiceI
	metrics     *metrics.Metrics
	proofLimit  *RateLimiter
	decimals    int32
}

type ServicesList struct {
	PoolsService       PoolsServiceI
	ProofsService      ProofsServiceI
	SettlementService  SettlementServiceI
	LeaderboardService LeaderboardServiceI
	Balances           BalanceReaderI
	JwtService         JWTServiceI
	Metrics            *metrics.Metrics
	// Proof submissions allowed per user and minute
	ProofRatePerMinute int
	// Decimal places of chain balances
	BalanceDecimals int32
}

func New(servicesOptions *ServicesList) *Server {
	if servicesOptions.PoolsService == nil || servicesOptions.ProofsService == nil || servicesOptions.SettlementService == nil ||
		servicesOptions.LeaderboardService == nil || servicesOptions.Balances == nil || servicesOptions.JwtService == nil {
		log.Fatal("on api server provided nil services")
	}
	m := servicesOptions.Metrics
	if m == nil {
		m = metrics.New()
	}
	perMinute := servicesOptions.ProofRatePerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	s := &Server{
		mx:          chi.NewMux(),
		pools:       servicesOptions.PoolsService,
		proofs:      servicesOptions.ProofsService,
		settlement:  servicesOptions.SettlementService,
		leaderboard: servicesOptions.LeaderboardService,
		balances:    servicesOptions.Balances,
		jwtService:  servicesOptions.JwtService,
		metrics:     m,
		proofLimit:  NewRateLimiter(perMinute),
		decimals:    servicesOptions.BalanceDecimals,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mx.Use(s.RequestIDMiddleware, s.SettingUpLoggerMiddleware, middleware.Recoverer, s.metrics.Middleware)
	s.mx.Get("/healthz", s.Health)
	s.mx.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	s.mx.Route("/api/v1", func(r chi.Router) {
		r.Get("/pools/{id}", s.GetPool)
		r.Get("/leaderboard", s.Leaderboard)
		r.Get("/balance/{address}", s.Balance)
		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware, s.LoggerExtensionMiddleware)
			r.Post("/pools", s.CreatePool)
			r.Post("/pools/{id}/join", s.JoinPool)
			r.Post("/pools/{id}/forfeit", s.ForfeitPool)
			r.With(s.proofLimit.Handler).Post("/pools/{id}/proofs", s.SubmitProof)
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleReviewer, RoleOperator))
				r.Get("/pools/{id}/proofs/pending", s.PendingProofs)
				r.Post("/proofs/{id}/resolve", s.ResolveProof)
			})
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleOperator))
				r.Post("/pools/{id}/advance", s.AdvancePool)
				r.Post("/pools/{id}/repair", s.RepairPool)
			})
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mx.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then drains open requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mx,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
