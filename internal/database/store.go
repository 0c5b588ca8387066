package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrAlreadyClaimed is returned by ClaimMessage when the processed flag was
// already set, meaning another handler owns the entry.
var ErrAlreadyClaimed = errors.New("message already claimed")

// ErrNotFound is returned when a message lookup matches no row.
var ErrNotFound = errors.New("message not found")

// subscriberBuffer is the per-subscriber notification channel capacity.
// Notifications are best effort: a full subscriber drops the notification
// and the scheduled log sweep picks the entry up later.
const subscriberBuffer = 64

// Store defines the interface for message log operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// AppendMessage inserts a new log entry, assigns its server-side creation
	// timestamp and ID, and notifies subscribers of the addition.
	AppendMessage(ctx context.Context, message *Message) error

	// GetMessage retrieves a single entry by ID. Returns ErrNotFound if absent.
	GetMessage(ctx context.Context, id uint) (*Message, error)

	// ListMessages retrieves up to 'limit' entries ordered by creation time
	// ascending, the display order for the presentation client.
	ListMessages(ctx context.Context, limit int) ([]Message, error)

	// ClaimMessage atomically flips the processed flag on a user entry.
	// It returns ErrAlreadyClaimed when the flag was already set, so duplicate
	// delivery of the same entry is resolved deterministically.
	ClaimMessage(ctx context.Context, id uint) error

	// GetUnprocessedUserMessages retrieves user entries still unprocessed that
	// were created before 'olderThan', for the reconciliation sweep.
	GetUnprocessedUserMessages(ctx context.Context, olderThan time.Time, limit int) ([]Message, error)

	// Subscribe registers for added-entry notifications. The returned cancel
	// function must be called to release the subscription.
	Subscribe() (<-chan Message, func())

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[int]chan Message
	nextSubID   int
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:          db,
		logger:      logger.With("component", "store"),
		subscribers: make(map[int]chan Message),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendMessage inserts a new log entry and notifies subscribers.
func (s *sqlxStore) AppendMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot append nil message")
	}
	if message.Role != RoleUser && message.Role != RoleModel {
		return fmt.Errorf("message must have role %q or %q, got %q", RoleUser, RoleModel, message.Role)
	}
	if message.Text == "" {
		return fmt.Errorf("message must have non-empty text")
	}
	if message.Role == RoleModel && message.Processed {
		return fmt.Errorf("model entries never carry the processed flag")
	}

	// Creation time is assigned here, not by the producer, to keep display
	// ordering immune to clock skew between producers.
	message.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO messages (role, text, processed, related_to_message_id, created_at)
        VALUES (:role, :text, :processed, :related_to_message_id, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error appending message", "role", message.Role, "error", err)
		return fmt.Errorf("failed to append %s message: %w", message.Role, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after appending message", "error", err)
	} else {
		//nolint:gosec // row IDs are small positive integers
		message.ID = uint(id)
	}

	s.notify(*message)
	return nil
}

// GetMessage retrieves a single entry by ID.
func (s *sqlxStore) GetMessage(ctx context.Context, id uint) (*Message, error) {
	var m Message
	err := s.db.GetContext(ctx, &m, `SELECT * FROM messages WHERE id = ?;`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return &m, nil
}

// ListMessages retrieves entries ordered by creation time ascending.
func (s *sqlxStore) ListMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	messages := []Message{}
	query := `SELECT * FROM messages ORDER BY created_at ASC, id ASC LIMIT ?;`
	if err := s.db.SelectContext(ctx, &messages, query, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing messages", "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ClaimMessage atomically flips the processed flag on a user entry.
// The conditional update is the idempotency guard: whichever handler wins the
// update owns the entry, all others get ErrAlreadyClaimed.
func (s *sqlxStore) ClaimMessage(ctx context.Context, id uint) error {
	query := `UPDATE messages SET processed = 1 WHERE id = ? AND role = ? AND processed = 0;`
	result, err := s.db.ExecContext(ctx, query, id, RoleUser)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error claiming message", "message_id", id, "error", err)
		return fmt.Errorf("failed to claim message %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result for message %d: %w", id, err)
	}
	if affected == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// GetUnprocessedUserMessages retrieves user entries still awaiting processing.
func (s *sqlxStore) GetUnprocessedUserMessages(ctx context.Context, olderThan time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	messages := []Message{}
	query := `
        SELECT * FROM messages
        WHERE role = ? AND processed = 0 AND created_at < ?
        ORDER BY created_at ASC, id ASC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &messages, query, RoleUser, olderThan.UTC(), limit); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching unprocessed messages", "error", err)
		return nil, fmt.Errorf("failed to fetch unprocessed messages: %w", err)
	}
	return messages, nil
}

// Subscribe registers for added-entry notifications.
func (s *sqlxStore) Subscribe() (<-chan Message, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Message, subscriberBuffer)
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// notify fans an added entry out to all subscribers without blocking.
func (s *sqlxStore) notify(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- message:
		default:
			s.logger.Warn("Subscriber channel full, dropping notification",
				"subscriber_id", id, "message_id", message.ID)
		}
	}
}

// RunSQLMaintenance performs database maintenance tasks.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Running SQL maintenance (VACUUM, ANALYZE)")

	if _, err := s.db.ExecContext(ctx, `VACUUM;`); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE;`); err != nil {
		return fmt.Errorf("analyze failed: %w", err)
	}
	return nil
}
