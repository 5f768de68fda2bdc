package scraper

import (
	"context"
	"encoding/json"

	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/message"
	"github.com/teranos/gdscraper/pulse/async"
	"github.com/teranos/gdscraper/scrape"
	"go.uber.org/zap"
)

// DefaultHandlerName is the pulse handler that runs scrape jobs
const DefaultHandlerName = "glassdoor.scrape"

// JobRunner runs one scrape job and publishes its outcome
type JobRunner interface {
	Run(ctx context.Context, key string, auth scrape.Auth) (scrape.Outcome, error)
}

// Payload is what the intake stores on a job: the inbound message as consumed
type Payload struct {
	MessageID  int64  `json:"message_id"`
	MessageKey string `json:"message_key,omitempty"`
	Value      []byte `json:"value"`
}

// Handler implements async.JobHandler for scrape jobs
type Handler struct {
	runner JobRunner
	name   string
	logger *zap.SugaredLogger
}

// NewHandler creates a scrape job handler. An empty name uses DefaultHandlerName.
func NewHandler(runner JobRunner, name string, log *zap.SugaredLogger) *Handler {
	if name == "" {
		name = DefaultHandlerName
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{runner: runner, name: name, logger: log}
}

// Name returns the handler identifier
func (h *Handler) Name() string {
	return h.name
}

// Execute parses the inbound message of job and runs the scrape. The job's
// Source is the correlation key of the published outcome. Invalid input fails
// the job and nothing is published.
func (h *Handler) Execute(ctx context.Context, job *async.Job) error {
	ctx = logger.WithCorrelationKey(ctx, job.Source)
	log := logger.LoggerFromContext(ctx, h.logger)

	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		err = errors.Mark(errors.Wrap(err, "failed to decode payload"), errors.ErrInvalidRequest)
		return errors.WithDetail(err, "Job ID: "+job.ID)
	}

	input, err := message.ParseInput(payload.Value)
	if err != nil {
		log.Errorw("Failed to parse input message",
			logger.FieldMessageID, payload.MessageID,
			logger.FieldError, err)
		return errors.Mark(err, errors.ErrInvalidRequest)
	}

	log.Infow("Running job", logger.FieldMessageID, payload.MessageID)

	out, err := h.runner.Run(ctx, job.Source, input.ScrapeAuth())
	job.Outcome = outcomeLabel(out)
	return err
}

// outcomeLabel is what the job table records: "success" or the failure reason
func outcomeLabel(out scrape.Outcome) string {
	if out.Success {
		return message.OutcomeSuccess
	}
	return string(out.Reason)
}

var _ async.JobHandler = (*Handler)(nil)
