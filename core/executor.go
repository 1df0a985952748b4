package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"epochvault/core/epoch"
	vaulterrors "epochvault/core/errors"
	"epochvault/core/events"
	"epochvault/core/state"
	"epochvault/crypto"
	nativecommon "epochvault/native/common"
	"epochvault/native/lending"
	"epochvault/native/token"
	"epochvault/native/vault"
	"epochvault/observability"
	"epochvault/storage"
)

var errNilDatabase = errors.New("executor: database not configured")

// Tx exposes the engines bound to one state transaction.
type Tx struct {
	OpID   string
	Vault  *vault.Engine
	Tokens *token.Ledger
	Venue  *lending.Engine
	State  *state.Manager
}

// ExecutorConfig wires the executor's collaborators.
type ExecutorConfig struct {
	// AccountDeposit is charged in native units for every token account.
	AccountDeposit uint64
	Reserve        crypto.Address
	Clock          epoch.Clock
	Pauses         nativecommon.PauseView
	Logger         *slog.Logger
	FeedLimit      int
}

// Executor runs vault operations as atomic transactions over the database.
// Updates are serialised; views run concurrently against a throwaway
// overlay.
type Executor struct {
	stateMu sync.RWMutex
	db      storage.Database
	cfg     ExecutorConfig
	feed    *events.Feed
	logger  *slog.Logger
	metrics *observability.VaultMetrics
	tracer  trace.Tracer
}

// NewExecutor returns an executor over db.
func NewExecutor(db storage.Database, cfg ExecutorConfig) (*Executor, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	if cfg.Clock == nil {
		cfg.Clock = epoch.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		db:      db,
		cfg:     cfg,
		feed:    events.NewFeed(cfg.FeedLimit),
		logger:  cfg.Logger,
		metrics: observability.Vault(),
		tracer:  otel.Tracer("epochvault/core"),
	}, nil
}

// Feed returns the feed of committed events and compensation alerts.
func (x *Executor) Feed() *events.Feed { return x.feed }

// Clock returns the clock the vault engine reads.
func (x *Executor) Clock() epoch.Clock { return x.cfg.Clock }

// SetReserve binds the venue to the reserve created at genesis.
func (x *Executor) SetReserve(reserve crypto.Address) {
	x.stateMu.Lock()
	x.cfg.Reserve = reserve
	x.stateMu.Unlock()
}

// Update runs fn inside a write transaction. The transaction commits as one
// batch when fn succeeds and is discarded otherwise; committed events are
// published only after the commit.
func (x *Executor) Update(ctx context.Context, op string, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opID := uuid.NewString()
	ctx, span := x.tracer.Start(ctx, "vault."+op,
		trace.WithAttributes(attribute.String("op.id", opID)))
	defer span.End()
	started := time.Now()

	x.stateMu.Lock()
	defer x.stateMu.Unlock()

	overlay := storage.NewOverlay(x.db)
	buffered := &events.Buffer{}
	tx := x.bind(overlay, opID, buffered)
	err := fn(tx)
	if err == nil {
		if commitErr := overlay.Commit(); commitErr != nil {
			err = fmt.Errorf("commit %s: %w", op, commitErr)
		}
	} else {
		overlay.Discard()
	}
	x.metrics.ObserveOperation(op, string(vaulterrors.KindOf(err)), err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		x.logger.WarnContext(ctx, "vault operation failed", "op", op, "op_id", opID, "error", err)
		return err
	}
	for _, ev := range buffered.Drain() {
		x.feed.Publish(opID, ev)
		observability.Events().RecordEvent(ev.EventType())
	}
	x.logger.DebugContext(ctx, "vault operation committed", "op", op, "op_id", opID)
	return nil
}

// View runs fn against a snapshot that is never committed.
func (x *Executor) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.stateMu.RLock()
	defer x.stateMu.RUnlock()
	overlay := storage.NewOverlay(x.db)
	defer overlay.Discard()
	return fn(x.bind(overlay, "", &events.Buffer{}))
}

func (x *Executor) bind(kv state.KV, opID string, emitter events.Emitter) *Tx {
	mgr := state.NewManager(kv)
	tokens := token.NewLedger(x.cfg.AccountDeposit)
	tokens.SetState(mgr)
	venue := lending.NewEngine(tokens)
	venue.SetState(mgr)
	venue.SetPauses(x.cfg.Pauses)
	if !x.cfg.Reserve.IsZero() {
		venue.SetReserve(x.cfg.Reserve)
	}
	engine := vault.NewEngine(tokens, venue, x.cfg.Clock)
	engine.SetState(mgr)
	engine.SetPauses(x.cfg.Pauses)
	engine.SetEmitter(emitter)
	engine.SetAlertEmitter(&alertEmitter{feed: x.feed, metrics: x.metrics, opID: opID})
	engine.SetLogger(x.logger.With("op_id", opID))
	return &Tx{OpID: opID, Vault: engine, Tokens: tokens, Venue: venue, State: mgr}
}

// alertEmitter publishes compensation events immediately, outside the
// transaction that is about to be discarded.
type alertEmitter struct {
	feed    *events.Feed
	metrics *observability.VaultMetrics
	opID    string
}

func (a *alertEmitter) Emit(e events.Event) {
	if e == nil {
		return
	}
	if c, ok := e.(events.VaultCompensated); ok {
		a.metrics.RecordCompensation(c.Pipeline, c.Step, c.Error != "")
	}
	a.feed.Publish(a.opID, e)
	observability.Events().RecordEvent(e.EventType())
}
