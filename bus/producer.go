package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
)

// Producer appends messages to topics
type Producer struct {
	bus *Bus
}

// Send appends msgs to topic in one transaction. On success the ID, Topic and
// CreatedAt of each message are filled in and subscribers are notified.
func (p *Producer) Send(ctx context.Context, topic string, msgs ...*Message) error {
	if topic == "" {
		return errors.NewInvalidRequestError("topic is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	b := p.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		err = errors.Wrap(err, "failed to begin send")
		err = errors.WithDetail(err, fmt.Sprintf("Topic: %s", topic))
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ids := make([]int64, len(msgs))
	for i, msg := range msgs {
		var headers interface{}
		if len(msg.Headers) > 0 {
			raw, err := json.Marshal(msg.Headers)
			if err != nil {
				return errors.Wrap(err, "failed to encode headers")
			}
			headers = string(raw)
		}
		value := msg.Value
		if value == nil {
			value = []byte{}
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO bus_messages (topic, key, value, headers, created_at) VALUES (?, ?, ?, ?, ?)`,
			topic, msg.Key, value, headers, now)
		if err != nil {
			err = errors.Wrap(err, "failed to append message")
			err = errors.WithDetail(err, fmt.Sprintf("Topic: %s", topic))
			err = errors.WithDetail(err, fmt.Sprintf("Key: %s", msg.Key))
			return err
		}
		if ids[i], err = result.LastInsertId(); err != nil {
			return errors.Wrap(err, "failed to read message id")
		}
	}

	if err := tx.Commit(); err != nil {
		err = errors.Wrap(err, "failed to commit send")
		err = errors.WithDetail(err, fmt.Sprintf("Topic: %s", topic))
		err = errors.WithDetail(err, fmt.Sprintf("Messages: %d", len(msgs)))
		return err
	}

	for i, msg := range msgs {
		msg.ID = ids[i]
		msg.Topic = topic
		msg.CreatedAt = now
		b.logger.Debugw("Message sent",
			logger.FieldTopic, topic,
			logger.FieldMessageID, msg.ID,
			logger.FieldCorrelationKey, msg.Key)
		b.notifySubscribers(msg)
	}
	return nil
}
