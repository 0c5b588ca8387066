package database

import (
	"database/sql"
	"time"
)

// Message roles. A user entry is authored by the presentation client and
// carries the processed flag; a model entry is authored by the log bridge.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message represents one append-only entry in the shared chat log.
// Entries are never mutated after creation except for the single
// processed flip on user-role entries.
type Message struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	Role      string `db:"role"`
	Text      string `db:"text"`
	Processed bool   `db:"processed"`

	// RelatedToMessageID back-references a model entry to the user entry it
	// answers. Null on user entries.
	RelatedToMessageID sql.NullInt64 `db:"related_to_message_id"`
}
