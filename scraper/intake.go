package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teranos/gdscraper/bus"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/pulse/async"
	"github.com/teranos/gdscraper/scrape"
	"go.uber.org/zap"
)

// IntakeConfig names what the intake reads and which handler runs its jobs
type IntakeConfig struct {
	Group        string
	Topic        string
	PollInterval time.Duration
	HandlerName  string
}

// Intake moves inbound messages from the bus into the job queue
type Intake struct {
	consumer *bus.Consumer
	queue    *async.Queue
	cfg      IntakeConfig
	newKey   func() string
	logger   *zap.SugaredLogger
}

// NewIntake creates an intake consuming cfg.Topic as consumer group cfg.Group
func NewIntake(b *bus.Bus, queue *async.Queue, cfg IntakeConfig, log *zap.SugaredLogger) *Intake {
	if cfg.HandlerName == "" {
		cfg.HandlerName = DefaultHandlerName
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Intake{
		consumer: b.Consumer(cfg.Group),
		queue:    queue,
		cfg:      cfg,
		newKey:   scrape.NewCorrelationKey,
		logger:   log,
	}
}

// Run consumes the input topic until ctx is done
func (in *Intake) Run(ctx context.Context) error {
	in.logger.Infow("Subscribing to input topic",
		logger.FieldTopic, in.cfg.Topic,
		logger.FieldGroup, in.cfg.Group)
	return in.consumer.Poll(ctx, in.cfg.Topic, in.cfg.PollInterval, in.Handle)
}

// Handle enqueues one inbound message as a job under a fresh correlation key.
// The message is not validated here; the handler drops invalid input.
func (in *Intake) Handle(ctx context.Context, msg *bus.Message) error {
	payload, err := json.Marshal(Payload{MessageID: msg.ID, MessageKey: msg.Key, Value: msg.Value})
	if err != nil {
		return errors.Wrap(err, "failed to encode job payload")
	}

	key := in.newKey()
	job, err := async.NewJob(in.cfg.HandlerName, key, payload)
	if err != nil {
		return err
	}
	if err := in.queue.Enqueue(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue scrape job")
		return errors.WithDetail(err, fmt.Sprintf("Message ID: %d", msg.ID))
	}

	in.logger.Infow("Queued job",
		logger.FieldJobID, job.ID,
		logger.FieldCorrelationKey, key,
		logger.FieldMessageID, msg.ID)
	return nil
}
