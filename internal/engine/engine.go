package engine

import (
	"github.com/rs/zerolog"

	"github.com/FelixGibson/gmx-synthetics/internal/access"
	"github.com/FelixGibson/gmx-synthetics/internal/bank"
	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/event"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/observability"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
	"github.com/FelixGibson/gmx-synthetics/internal/position"
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// Engine is the single-threaded settlement core. All state transitions
// flow through its public operations; callers serialize access (the
// server wraps it in one loop). Timestamps arrive with each request as
// versioned inputs, never read from the wall clock.
type Engine struct {
	ds        *store.DataStore
	positions *position.Store
	orders    *order.Book
	vault     bank.Vault
	roles     *access.RoleStore
	features  *access.Features
	emitter   event.Emitter
	markets   map[string]market.Market
	logger    zerolog.Logger
	metrics   *observability.Metrics

	// Reentrancy guard: operations must never nest.
	inProgress bool
}

// Config carries the engine's collaborators. Vault is required;
// Emitter and Metrics may be nil.
type Config struct {
	Vault   bank.Vault
	Emitter event.Emitter
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

func New(cfg Config) *Engine {
	ds := store.NewDataStore()
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = event.NopEmitter{}
	}
	return &Engine{
		ds:        ds,
		positions: position.NewStore(),
		orders:    order.NewBook(),
		vault:     cfg.Vault,
		roles:     access.NewRoleStore(),
		features:  access.NewFeatures(ds),
		emitter:   emitter,
		markets:   make(map[string]market.Market),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// RegisterMarket adds a tradable market. Both tokens must exist in the
// token registry.
func (e *Engine) RegisterMarket(m market.Market) error {
	if m.ID == "" {
		return errs.InvalidInputf("market id is required")
	}
	for _, token := range m.Tokens() {
		if _, ok := market.GetToken(token); !ok {
			return errs.InvalidInputf("unknown token %s in market %s", token, m.ID)
		}
	}
	if _, exists := e.markets[m.ID]; exists {
		return errs.InvalidInputf("market %s already registered", m.ID)
	}
	e.markets[m.ID] = m
	return nil
}

// Roles exposes role management for wiring and administration.
func (e *Engine) Roles() *access.RoleStore {
	return e.roles
}

// Features exposes the feature kill switches.
func (e *Engine) Features() *access.Features {
	return e.features
}

func (e *Engine) begin() error {
	if e.inProgress {
		return errs.InvalidStatef("reentrant engine call")
	}
	e.inProgress = true
	return nil
}

func (e *Engine) end() {
	e.inProgress = false
}

func (e *Engine) lookupMarket(id string) (market.Market, error) {
	m, ok := e.markets[id]
	if !ok {
		return market.Market{}, errs.InvalidInputf("unknown market %s", id)
	}
	return m, nil
}

func (e *Engine) rejected(operation string, err error) {
	if e.metrics != nil {
		e.metrics.OrdersRejected.WithLabelValues(operation, errs.KindOf(err).String()).Inc()
	}
}

// snapshot captures all mutable state for all-or-nothing operations.
type snapshot struct {
	ds        *store.DataStore
	positions *position.Store
	orders    *order.Book
}

func (e *Engine) snapshot() snapshot {
	return snapshot{
		ds:        e.ds.Snapshot(),
		positions: e.positions.Snapshot(),
		orders:    e.orders.Snapshot(),
	}
}

func (e *Engine) restore(s snapshot) {
	e.ds.Restore(s.ds)
	e.positions.Restore(s.positions)
	e.orders.Restore(s.orders)
}
