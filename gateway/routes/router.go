package routes

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yieldcredit/core"
	"yieldcredit/gateway/middleware"
	"yieldcredit/native/credit"
)

// Rate limit keys understood by New.
const (
	LimitReads  = "reads"
	LimitWrites = "writes"
)

// Service is the protocol surface the API exposes. *core.Protocol
// implements it.
type Service interface {
	OpenLendCredit(ctx context.Context, caller common.Address, req credit.OpenRequest) (uint64, error)
	RepayCredit(ctx context.Context, caller common.Address, index uint64) (*big.Int, error)
	Liquidate(ctx context.Context, caller, user common.Address, index uint64) (*big.Int, error)
	AddLiquidity(ctx context.Context, caller, token common.Address, amount *big.Int) error
	RemoveLiquidity(ctx context.Context, caller, token common.Address, amount *big.Int) error
	Claim(ctx context.Context, caller, addr common.Address) (*big.Int, error)

	Token(symbol string) (common.Address, bool)
	Position(user common.Address, index uint64) (*credit.Position, error)
	Positions(user common.Address) ([]*credit.Position, error)
	Health(user common.Address, index uint64) (uint64, error)
	VaultInfo(token common.Address) (*core.VaultView, error)
	PendingRewards(addr, user common.Address) (*big.Int, error)
}

type Config struct {
	Service       Service
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

// New builds the HTTP API. Reads are public; writes need a bearer token
// whose subject becomes the caller.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: cfg.Service, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(reads chi.Router) {
			reads.Use(limit(LimitReads))
			reads.Get("/positions/{user}", h.positions)
			reads.Get("/positions/{user}/{index}", h.position)
			reads.Get("/health/{user}/{index}", h.health)
			reads.Get("/vaults/{token}", h.vault)
			reads.Get("/rewards/{pool}/{user}", h.pending)
		})
		v1.Group(func(writes chi.Router) {
			if cfg.Authenticator != nil {
				writes.Use(cfg.Authenticator.Middleware)
			}
			writes.Use(limit(LimitWrites))
			writes.Post("/credit/open", h.open)
			writes.Post("/credit/repay", h.repay)
			writes.Post("/credit/liquidate", h.liquidate)
			writes.Post("/vaults/{token}/supply", h.supply)
			writes.Post("/vaults/{token}/withdraw", h.withdraw)
			writes.Post("/rewards/{pool}/claim", h.claim)
		})
	})
	return r
}
