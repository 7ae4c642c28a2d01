package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/eventchat/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'attendee',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	title        TEXT NOT NULL,
	organizer_id INTEGER NOT NULL,
	starts_at    DATETIME NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (organizer_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS event_participants (
	event_id  INTEGER NOT NULL,
	user_id   INTEGER NOT NULL,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (event_id, user_id),
	FOREIGN KEY (event_id) REFERENCES events(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id          INTEGER NOT NULL,
	user_id           INTEGER NOT NULL,
	body              TEXT NOT NULL,
	receiver_id       INTEGER,
	is_from_organizer BOOLEAN NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	FOREIGN KEY (event_id) REFERENCES events(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_event ON chat_messages(event_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_event_participants_user ON event_participants(user_id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with an already hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash, role string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, role)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, role)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `SELECT id, username, password_hash, role, created_at FROM users ` + where
	var user store.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== EventStore implementation ====

// CreateEvent creates an event owned by organizerID.
func (s *SQLiteStore) CreateEvent(ctx context.Context, title string, organizerID int64, startsAt time.Time) (*store.Event, error) {
	query := `
		INSERT INTO events (title, organizer_id, starts_at)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, title, organizerID, startsAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetEvent(ctx, id)
}

// GetEvent retrieves an event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*store.Event, error) {
	query := `
		SELECT id, title, organizer_id, starts_at, created_at
		FROM events
		WHERE id = ?
	`
	var event store.Event
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.Title,
		&event.OrganizerID,
		&event.StartsAt,
		&event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query event: %w", err)
	}

	return &event, nil
}

// AddParticipant admits a ticket holder to the event chat.
func (s *SQLiteStore) AddParticipant(ctx context.Context, eventID, userID int64) error {
	query := `
		INSERT OR IGNORE INTO event_participants (event_id, user_id)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, eventID, userID); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// IsParticipant checks whether the user holds a ticket or organizes the event.
func (s *SQLiteStore) IsParticipant(ctx context.Context, eventID, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM event_participants WHERE event_id = ? AND user_id = ?)
		    OR EXISTS (SELECT 1 FROM events WHERE id = ? AND organizer_id = ?)
	`
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, eventID, userID, eventID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("query participant: %w", err)
	}
	return ok, nil
}

// ListParticipants lists the organizer and ticket holders ordered by username.
func (s *SQLiteStore) ListParticipants(ctx context.Context, eventID int64) ([]store.Participant, error) {
	query := `
		SELECT u.id, u.username
		FROM users u
		WHERE u.id IN (
			SELECT user_id FROM event_participants WHERE event_id = ?
			UNION
			SELECT organizer_id FROM events WHERE id = ?
		)
		ORDER BY u.username ASC
	`
	rows, err := s.db.QueryContext(ctx, query, eventID, eventID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []store.Participant
	for rows.Next() {
		var p store.Participant
		if err := rows.Scan(&p.UserID, &p.Username); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and returns it with ID and sender name filled in.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO chat_messages (event_id, user_id, body, receiver_id, is_from_organizer, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.EventID, msg.UserID, msg.Body, msg.ReceiverID, msg.IsFromOrganizer, msg.CreatedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	saved := *msg
	saved.ID = id
	if saved.Username == "" {
		user, err := s.GetUserByID(ctx, msg.UserID)
		if err != nil {
			return nil, err
		}
		saved.Username = user.Username
	}
	return &saved, nil
}

// ListMessages retrieves one page of an event's messages visible to viewerID,
// newest first. Direct replies are visible to their sender and recipient only.
func (s *SQLiteStore) ListMessages(ctx context.Context, eventID, viewerID int64, beforeID int64, limit int) ([]store.Message, error) {
	query := `
		SELECT m.id, m.event_id, m.user_id, u.username, m.body, m.receiver_id, m.is_from_organizer, m.created_at
		FROM chat_messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.event_id = ?
		  AND (? = 0 OR m.id < ?)
		  AND (m.receiver_id IS NULL OR m.receiver_id = ? OR m.user_id = ?)
		ORDER BY m.id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, eventID, beforeID, beforeID, viewerID, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []store.Message
	for rows.Next() {
		var msg store.Message
		var receiver sql.NullInt64
		if err := rows.Scan(
			&msg.ID,
			&msg.EventID,
			&msg.UserID,
			&msg.Username,
			&msg.Body,
			&receiver,
			&msg.IsFromOrganizer,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if receiver.Valid {
			msg.ReceiverID = &receiver.Int64
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
