// Package bridge implements the message log bridge: a long-lived worker that
// watches the chat log for new user entries, claims each one exactly once,
// runs it through the conversation orchestrator, and appends the reply.
package bridge

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/campushq/bursarbot/internal/config"
	"github.com/campushq/bursarbot/internal/database"
)

const appendTimeout = 5 * time.Second

// Orchestrator produces the reply text for one user message.
type Orchestrator interface {
	Handle(ctx context.Context, userText string) (string, error)
}

// Bridge subscribes to the message log and dispatches one handler per new
// user entry.
type Bridge struct {
	log            *slog.Logger
	store          database.Store
	orchestrator   Orchestrator
	apology        string
	maxHandlers    int
	handlerTimeout time.Duration
	sweepGrace     time.Duration
}

// New creates a log bridge.
func New(store database.Store, orchestrator Orchestrator, cfg config.BridgeConfig, apology string, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:            log.With("component", "bridge"),
		store:          store,
		orchestrator:   orchestrator,
		apology:        apology,
		maxHandlers:    cfg.MaxHandlers,
		handlerTimeout: cfg.HandlerTimeout,
		sweepGrace:     cfg.SweepGrace,
	}
}

// Run consumes added-entry notifications until the context is cancelled,
// spawning one bounded handler goroutine per unprocessed user entry.
// In-flight handlers are drained before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	notifications, cancel := b.store.Subscribe()
	defer cancel()

	g := &errgroup.Group{}
	g.SetLimit(b.maxHandlers)

	b.log.Info("Bridge started", "max_handlers", b.maxHandlers)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-notifications:
			if !ok {
				break loop
			}
			if msg.Role != database.RoleUser || msg.Processed {
				continue
			}
			g.Go(func() error {
				b.process(ctx, msg)
				return nil
			})
		}
	}

	b.log.Info("Bridge shutting down, draining in-flight handlers...")
	_ = g.Wait()
	b.log.Info("Bridge stopped.")
	return nil
}

// Sweep re-dispatches user entries that were appended but never claimed,
// covering notifications lost to a full subscriber buffer or a restart.
// Entries younger than the grace period are left for the live path.
func (b *Bridge) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-b.sweepGrace)
	pending, err := b.store.GetUnprocessedUserMessages(ctx, cutoff, 50)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	b.log.InfoContext(ctx, "Sweep found unclaimed entries", "count", len(pending))
	for _, msg := range pending {
		b.process(ctx, msg)
	}
	return nil
}

// process handles one user entry end to end: claim, orchestrate, append the
// reply or the fallback apology. The claim happens before any model work so
// duplicate deliveries resolve at the conditional update.
func (b *Bridge) process(ctx context.Context, msg database.Message) {
	log := b.log.With("message_id", msg.ID)

	ctx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	defer cancel()

	if err := b.store.ClaimMessage(ctx, msg.ID); err != nil {
		if errors.Is(err, database.ErrAlreadyClaimed) {
			log.DebugContext(ctx, "Entry already claimed, skipping")
		} else {
			log.ErrorContext(ctx, "Failed to claim entry", "error", err)
		}
		return
	}

	reply, err := b.orchestrator.Handle(ctx, msg.Text)
	if err != nil {
		// The failure stays server-side; the user gets the fixed apology.
		log.ErrorContext(ctx, "Orchestration failed, sending fallback reply", "error", err)
		reply = b.apology
	}

	// The append gets its own deadline so a handler timeout that killed the
	// model call doesn't also swallow the apology.
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer saveCancel()

	out := &database.Message{
		Role: database.RoleModel,
		Text: reply,
		RelatedToMessageID: sql.NullInt64{
			Int64: int64(msg.ID),
			Valid: true,
		},
	}
	if err := b.store.AppendMessage(saveCtx, out); err != nil {
		log.ErrorContext(ctx, "Failed to append reply entry", "error", err)
		return
	}

	log.InfoContext(ctx, "Reply appended", "reply_id", out.ID)
}
