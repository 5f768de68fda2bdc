// Package bus is a SQLite-backed topic log with consumer groups.
//
// Messages are appended to a topic and never modified. Each consumer group
// keeps its own committed offset per topic, so every group sees every message
// and within a group each message is handed out once.
package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"go.uber.org/zap"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
	// MaxListLimit caps how many messages List returns
	MaxListLimit = 1000
)

// ErrNoMessage is returned by Consumer.Next when the group has consumed everything
var ErrNoMessage = errors.New("no message available")

// Message is one record of a topic
type Message struct {
	ID        int64             `json:"id"`
	Topic     string            `json:"topic"`
	Key       string            `json:"key"`
	Value     []byte            `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Header returns the named header or ""
func (m *Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// Bus owns the topic tables and fans new messages out to in-process subscribers
type Bus struct {
	db          *sql.DB
	logger      *zap.SugaredLogger
	mu          sync.Mutex
	subMu       sync.RWMutex
	subscribers []chan *Message
}

// New creates a bus on db. The bus tables must already be migrated.
func New(db *sql.DB, log *zap.SugaredLogger) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bus{
		db:     db,
		logger: log.Named("bus"),
	}
}

// Producer returns a producer appending to this bus
func (b *Bus) Producer() *Producer {
	return &Producer{bus: b}
}

// Consumer returns a consumer reading with the given group's offsets
func (b *Bus) Consumer(group string) *Consumer {
	return &Consumer{bus: b, group: group}
}

// Subscribe returns a channel receiving every message sent after the call.
// Slow subscribers miss messages rather than blocking producers.
func (b *Bus) Subscribe() <-chan *Message {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	ch := make(chan *Message, SubscriberChannelBufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe
func (b *Bus) Unsubscribe(ch <-chan *Message) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			close(sub)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

func (b *Bus) notifySubscribers(msg *Message) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub <- msg:
		default:
			// Skip if channel is full (non-blocking)
		}
	}
}

const selectColumns = `id, topic, key, value, headers, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var headers sql.NullString
	if err := row.Scan(&msg.ID, &msg.Topic, &msg.Key, &msg.Value, &headers, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &msg.Headers); err != nil {
			return nil, errors.Wrapf(err, "decode headers of message %d", msg.ID)
		}
	}
	return &msg, nil
}

// List returns up to limit messages of topic with an id greater than afterID, oldest first
func (b *Bus) List(ctx context.Context, topic string, afterID int64, limit int) ([]*Message, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM bus_messages WHERE topic = ? AND id > ? ORDER BY id LIMIT ?`,
		topic, afterID, limit)
	if err != nil {
		err = errors.Wrap(err, "failed to list messages")
		err = errors.WithDetail(err, fmt.Sprintf("Topic: %s", topic))
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}
	return messages, nil
}

// Latest returns up to limit of the newest messages of topic, newest first
func (b *Bus) Latest(ctx context.Context, topic string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM bus_messages WHERE topic = ? ORDER BY id DESC LIMIT ?`,
		topic, limit)
	if err != nil {
		err = errors.Wrap(err, "failed to list latest messages")
		err = errors.WithDetail(err, fmt.Sprintf("Topic: %s", topic))
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		messages = append(messages, msg)
	}
	return messages, errors.Wrap(rows.Err(), "failed to iterate messages")
}

// Offset returns the last id consumed by group on topic, 0 if the group never read it
func (b *Bus) Offset(ctx context.Context, group, topic string) (int64, error) {
	var lastID int64
	err := b.db.QueryRowContext(ctx,
		`SELECT last_id FROM bus_offsets WHERE group_id = ? AND topic = ?`, group, topic).Scan(&lastID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		err = errors.Wrap(err, "failed to read offset")
		err = errors.WithDetail(err, fmt.Sprintf("Group: %s", group))
		err = errors.WithDetail(err, fmt.Sprintf("Topic: %s", topic))
		return 0, err
	}
	return lastID, nil
}

// Cleanup deletes messages older than olderThan and returns how many were removed.
// Offsets are kept so groups never re-read ids that disappeared.
func (b *Bus) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := b.db.ExecContext(ctx, `DELETE FROM bus_messages WHERE created_at < ?`, cutoff)
	if err != nil {
		err = errors.Wrap(err, "failed to clean up messages")
		err = errors.WithDetail(err, fmt.Sprintf("Older than: %s", olderThan))
		return 0, err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count deleted messages")
	}
	if deleted > 0 {
		b.logger.Infow("Cleaned up old messages", logger.FieldCount, deleted, "older_than", olderThan.String())
	}
	return deleted, nil
}
