package bus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"go.uber.org/zap"
)

// Consumer reads topics on behalf of one consumer group
type Consumer struct {
	bus   *Bus
	group string
}

// Group returns the consumer group name
func (c *Consumer) Group() string {
	return c.group
}

// Next claims the next message of topic for the group and commits the offset
// before returning it. A crash after Next returns loses the message for this
// group; it is never delivered twice. Returns ErrNoMessage when caught up.
func (c *Consumer) Next(ctx context.Context, topic string) (*Message, error) {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.wrap(errors.Wrap(err, "failed to begin claim"), topic)
	}
	defer tx.Rollback()

	// Writing first takes SQLite's write lock, so other processes sharing the
	// database serialize on the same group offset.
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bus_offsets (group_id, topic, last_id, updated_at) VALUES (?, ?, 0, ?)
		 ON CONFLICT(group_id, topic) DO NOTHING`,
		c.group, topic, now); err != nil {
		return nil, c.wrap(errors.Wrap(err, "failed to register consumer group"), topic)
	}

	var lastID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT last_id FROM bus_offsets WHERE group_id = ? AND topic = ?`,
		c.group, topic).Scan(&lastID); err != nil {
		return nil, c.wrap(errors.Wrap(err, "failed to read offset"), topic)
	}

	msg, err := scanMessage(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM bus_messages WHERE topic = ? AND id > ? ORDER BY id LIMIT 1`,
		topic, lastID))
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Commit(); err != nil {
			return nil, c.wrap(errors.Wrap(err, "failed to commit consumer group"), topic)
		}
		return nil, ErrNoMessage
	}
	if err != nil {
		return nil, c.wrap(errors.Wrap(err, "failed to read next message"), topic)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bus_offsets SET last_id = ?, updated_at = ? WHERE group_id = ? AND topic = ?`,
		msg.ID, now, c.group, topic); err != nil {
		err = c.wrap(errors.Wrap(err, "failed to advance offset"), topic)
		return nil, errors.WithDetail(err, fmt.Sprintf("Message ID: %d", msg.ID))
	}

	if err := tx.Commit(); err != nil {
		err = c.wrap(errors.Wrap(err, "failed to commit offset"), topic)
		return nil, errors.WithDetail(err, fmt.Sprintf("Message ID: %d", msg.ID))
	}

	return msg, nil
}

func (c *Consumer) wrap(err error, topic string) error {
	err = errors.WithDetail(err, fmt.Sprintf("Group: %s", c.group))
	return errors.WithDetail(err, fmt.Sprintf("Topic: %s", topic))
}

// Handler processes one consumed message
type Handler func(ctx context.Context, msg *Message) error

// Poll consumes topic until ctx is done. Handler errors are logged and the
// message stays consumed. New messages sent through this bus wake the loop
// immediately; messages from other processes are picked up every interval.
func (c *Consumer) Poll(ctx context.Context, topic string, interval time.Duration, handle Handler) error {
	if interval <= 0 {
		interval = time.Second
	}
	log := c.bus.logger.With(logger.FieldGroup, c.group, logger.FieldTopic, topic)

	wake := c.bus.Subscribe()
	defer c.bus.Unsubscribe(wake)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Debugw("Polling topic", "interval", interval.String())

	for {
		c.drain(ctx, topic, handle, log)

		select {
		case <-ctx.Done():
			log.Debugw("Stopped polling topic")
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

// drain hands every available message to handle
func (c *Consumer) drain(ctx context.Context, topic string, handle Handler, log *zap.SugaredLogger) {
	for ctx.Err() == nil {
		msg, err := c.Next(ctx, topic)
		if errors.Is(err, ErrNoMessage) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Warnw("Failed to consume message", logger.FieldError, err)
			}
			return
		}
		if err := handle(ctx, msg); err != nil {
			log.Warnw("Message handler failed",
				logger.FieldMessageID, msg.ID,
				logger.FieldCorrelationKey, msg.Key,
				logger.FieldError, err)
		}
	}
}
