package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/quill-server/internal/store"
)

//go:embed schema.sql
var schema string

// ApplySchema creates all tables and indexes if they do not exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes message inserts so created_at never goes backwards and
	// the client_id lookup and insert happen as one step.
	mu          sync.Mutex
	clock       clock.Clock
	lastCreated int64
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema against ":memory:".
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps ":memory:" alive.
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

	return &SQLiteStore{db: db, clock: clock.New()}, nil
}

// UseClock replaces the time source used to stamp new messages.
func (s *SQLiteStore) UseClock(c clock.Clock) {
	s.mu.Lock()
	s.clock = c
	s.mu.Unlock()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
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
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

// UserExists reports whether a user with the given ID exists.
func (s *SQLiteStore) UserExists(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query user: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== PostStore implementation ====

// CreatePost stores a post and fills in its ID.
func (s *SQLiteStore) CreatePost(ctx context.Context, post *store.Post) error {
	query := `
		INSERT INTO posts (author_id, title, body, image_url)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, post.AuthorID, post.Title, post.Body, post.ImageURL)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	post.ID = id
	return nil
}

// UpdatePost overwrites title, body and image of an existing post.
func (s *SQLiteStore) UpdatePost(ctx context.Context, post *store.Post) error {
	query := `
		UPDATE posts
		SET title = ?, body = ?, image_url = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, post.Title, post.Body, post.ImageURL, post.ID)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("post: %w", store.ErrNotFound)
	}
	return nil
}

// GetPost retrieves a post by ID.
func (s *SQLiteStore) GetPost(ctx context.Context, id int64) (*store.Post, error) {
	query := `
		SELECT id, author_id, title, body, image_url, updated_at
		FROM posts
		WHERE id = ?
	`
	var post store.Post
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&post.ID,
		&post.AuthorID,
		&post.Title,
		&post.Body,
		&post.ImageURL,
		&post.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query post: %w", err)
	}
	return &post, nil
}

// ==== MessageStore implementation ====

const messageColumns = `id, COALESCE(client_id, ''), sender_id, receiver_id, content, is_read, kind,
	shared_post_id, preview_title, preview_excerpt, preview_image, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, extra ...any) (*store.Message, error) {
	var (
		msg          store.Message
		kind         string
		sharedPostID sql.NullInt64
		title        sql.NullString
		excerpt      sql.NullString
		image        sql.NullString
		createdAt    int64
	)
	dest := []any{
		&msg.ID,
		&msg.ClientID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Content,
		&msg.Read,
		&kind,
		&sharedPostID,
		&title,
		&excerpt,
		&image,
		&createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	msg.Kind = store.MessageKind(kind)
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	if sharedPostID.Valid {
		msg.SharedPostID = &sharedPostID.Int64
	}
	if title.Valid {
		msg.Preview = &store.PostPreview{
			Title:    title.String,
			Excerpt:  excerpt.String,
			ImageURL: image.String,
		}
	}
	return &msg, nil
}

// CreateMessage persists a message and fills in ID and CreatedAt.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ClientID != "" {
		existing, err := s.getMessageByClientID(ctx, msg.SenderID, msg.ClientID)
		if err == nil {
			*msg = *existing
			return false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
	}

	// created_at must be non-decreasing so that send order is observable.
	ts := s.clock.Now().UnixNano()
	if ts < s.lastCreated {
		ts = s.lastCreated
	}

	if msg.Kind == "" {
		msg.Kind = store.MessageKindText
	}

	var clientID, title, excerpt, image any
	if msg.ClientID != "" {
		clientID = msg.ClientID
	}
	if msg.Preview != nil {
		title = msg.Preview.Title
		excerpt = msg.Preview.Excerpt
		image = msg.Preview.ImageURL
	}

	query := `
		INSERT INTO messages (client_id, sender_id, receiver_id, content, is_read, kind,
			shared_post_id, preview_title, preview_excerpt, preview_image, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		clientID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		string(msg.Kind),
		msg.SharedPostID,
		title,
		excerpt,
		image,
		ts,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("get last insert id: %w", err)
	}

	s.lastCreated = ts
	msg.ID = id
	msg.Read = false
	msg.CreatedAt = time.Unix(0, ts).UTC()
	return true, nil
}

func (s *SQLiteStore) getMessageByClientID(ctx context.Context, senderID int64, clientID string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE sender_id = ? AND client_id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, senderID, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message by client id: %w", err)
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages exchanged between two users, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, userA, userB int64, limit, offset int) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, userA, userB, userB, userA, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkRead sets the read flag on one message.
func (s *SQLiteStore) MarkRead(ctx context.Context, id int64) (bool, error) {
	// No is_read filter: marking an already read message is still a match.
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkAllRead flips every unread message from sender to receiver.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	query := `
		UPDATE messages
		SET is_read = 1
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0
	`
	result, err := s.db.ExecContext(ctx, query, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// ListConversations returns one summary per peer of userID, most recent first.
// The latest message per peer and the unread count are resolved in a single
// query instead of one lookup per peer.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64) ([]*store.ConversationSummary, error) {
	query := `
		WITH ranked AS (
			SELECT ` + messageColumns + `,
				CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS peer_id,
				ROW_NUMBER() OVER (
					PARTITION BY CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
					ORDER BY created_at DESC, id DESC
				) AS rn
			FROM messages
			WHERE sender_id = ? OR receiver_id = ?
		),
		unread AS (
			SELECT sender_id AS peer_id, COUNT(*) AS unread_count
			FROM messages
			WHERE receiver_id = ? AND is_read = 0
			GROUP BY sender_id
		)
		SELECT r.*, COALESCE(u.unread_count, 0)
		FROM ranked r
		LEFT JOIN unread u ON u.peer_id = r.peer_id
		WHERE r.rn = 1
		ORDER BY r.created_at DESC, r.id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]*store.ConversationSummary, 0)
	for rows.Next() {
		var (
			summary store.ConversationSummary
			rank    int
		)
		msg, err := scanMessage(rows, &summary.PeerID, &rank, &summary.UnreadCount)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		summary.LastMessage = msg
		summaries = append(summaries, &summary)
	}

	return summaries, rows.Err()
}

// DeleteMessage hard-deletes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteConversation removes every message between two users.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, userA, userB int64) (int64, error) {
	query := `
		DELETE FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
	`
	result, err := s.db.ExecContext(ctx, query, userA, userB, userB, userA)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
