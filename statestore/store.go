// Package statestore is a local SQLite stand-in for the relay's
// "latest message on a topic" semantics. It lets the watchdog keep its
// state (and the last notification hash) without a public relay, for
// example when notifications go elsewhere or when testing offline.
package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/gradewatch/dbopen"
	"github.com/hazyhaar/gradewatch/idgen"
	"github.com/hazyhaar/gradewatch/relay"
)

// Schema is applied on Open.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    topic      TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    message    TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_topic ON messages(topic, seq DESC);
`

// DefaultKeep is how many messages are retained per topic.
const DefaultKeep = 20

// Store keeps published messages per topic.
type Store struct {
	DB    *sql.DB
	keep  int
	newID idgen.Generator
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithKeep sets the per-topic retention. Values below 1 keep DefaultKeep.
func WithKeep(n int) Option { return func(s *Store) { s.keep = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New wraps an already-opened database. The schema must have been applied.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, keep: DefaultKeep, newID: idgen.NanoID(12), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.keep < 1 {
		s.keep = DefaultKeep
	}
	return s
}

// Open opens (creating if needed) the database at path and applies Schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("statestore: %w", err)
	}
	return New(db, opts...), nil
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

// Publish stores message under topic and prunes the topic to the
// retention limit.
func (s *Store) Publish(ctx context.Context, topic, message, title string) (*relay.Message, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("statestore: topic is required")
	}
	msg := &relay.Message{
		ID:      s.newID(),
		Time:    s.now().Truncate(time.Second),
		Topic:   topic,
		Message: message,
		Title:   title,
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, topic, title, message, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.Topic, msg.Title, msg.Message, msg.Time.Unix()); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE topic = ? AND seq NOT IN (
				SELECT seq FROM messages WHERE topic = ? ORDER BY seq DESC LIMIT ?)`,
			topic, topic, s.keep); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("statestore: publish %s: %w", topic, err)
	}
	return msg, nil
}

// Latest returns the newest message on topic, or (nil, nil) if none.
func (s *Store) Latest(ctx context.Context, topic string) (*relay.Message, error) {
	topic = strings.TrimSpace(topic)
	var (
		msg     relay.Message
		created int64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, topic, title, message, created_at FROM messages
		WHERE topic = ? ORDER BY seq DESC LIMIT 1`, topic).
		Scan(&msg.ID, &msg.Topic, &msg.Title, &msg.Message, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: latest %s: %w", topic, err)
	}
	msg.Time = time.Unix(created, 0)
	return &msg, nil
}

// History returns up to limit messages on topic, newest first.
func (s *Store) History(ctx context.Context, topic string, limit int) ([]*relay.Message, error) {
	if limit <= 0 {
		limit = s.keep
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, topic, title, message, created_at FROM messages
		WHERE topic = ? ORDER BY seq DESC LIMIT ?`, strings.TrimSpace(topic), limit)
	if err != nil {
		return nil, fmt.Errorf("statestore: history: %w", err)
	}
	defer rows.Close()

	var out []*relay.Message
	for rows.Next() {
		var (
			m       relay.Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Topic, &m.Title, &m.Message, &created); err != nil {
			return nil, fmt.Errorf("statestore: scan: %w", err)
		}
		m.Time = time.Unix(created, 0)
		out = append(out, &m)
	}
	return out, rows.Err()
}
