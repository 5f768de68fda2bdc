package message

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teranos/gdscraper/bus"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/scrape"
	"go.uber.org/zap"
)

// Header names set on every result message
const (
	HeaderOutcome     = "outcome"
	HeaderContentType = "content-type"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	contentTypeJSON = "application/json"
)

// Topics names the two result topics
type Topics struct {
	Success string
	Failure string
}

// BusPublisher publishes job outcomes to the result topics of the bus
type BusPublisher struct {
	producer *bus.Producer
	topics   Topics
	logger   *zap.SugaredLogger
}

// NewBusPublisher creates a publisher sending through producer
func NewBusPublisher(producer *bus.Producer, topics Topics, log *zap.SugaredLogger) *BusPublisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &BusPublisher{producer: producer, topics: topics, logger: log}
}

// Publish sends out to the success or failure topic keyed by the correlation key
func (p *BusPublisher) Publish(ctx context.Context, key string, out scrape.Outcome) error {
	value, err := EncodeOutcome(out)
	if err != nil {
		return err
	}

	topic, outcome := p.topics.Success, OutcomeSuccess
	if !out.Success {
		topic, outcome = p.topics.Failure, OutcomeFailure
	}

	msg := &bus.Message{
		Key:   key,
		Value: value,
		Headers: map[string]string{
			HeaderOutcome:     outcome,
			HeaderContentType: contentTypeJSON,
		},
	}
	if err := p.producer.Send(ctx, topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s result", outcome)
	}

	logger.LoggerFromContext(ctx, p.logger).Debugw("Published result",
		logger.FieldTopic, topic,
		logger.FieldOutcome, outcome,
		logger.FieldMessageID, msg.ID)
	return nil
}

var _ scrape.Publisher = (*BusPublisher)(nil)

// Result is a decoded result message
type Result struct {
	ID          int64           `json:"id"`
	Topic       string          `json:"topic"`
	Key         string          `json:"key"`
	Outcome     string          `json:"outcome"`
	PublishedAt time.Time       `json:"published_at"`
	Success     *SuccessPayload `json:"success,omitempty"`
	Failure     *FailurePayload `json:"failure,omitempty"`
	Meta        Meta            `json:"meta"`
}

// Decode reads a result message. The outcome header decides the payload
// shape; messages without it are recognised by their payload.
func Decode(msg *bus.Message) (Result, error) {
	res := Result{
		ID:          msg.ID,
		Topic:       msg.Topic,
		Key:         msg.Key,
		Outcome:     msg.Header(HeaderOutcome),
		PublishedAt: msg.CreatedAt,
	}

	if res.Outcome == "" {
		var probe struct {
			Payload map[string]json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(msg.Value, &probe); err != nil {
			return Result{}, errors.Wrapf(err, "decode result %d", msg.ID)
		}
		if _, ok := probe.Payload["reason"]; ok {
			res.Outcome = OutcomeFailure
		} else {
			res.Outcome = OutcomeSuccess
		}
	}

	switch res.Outcome {
	case OutcomeSuccess:
		var body SuccessResult
		if err := json.Unmarshal(msg.Value, &body); err != nil {
			return Result{}, errors.Wrapf(err, "decode success result %d", msg.ID)
		}
		if body.Payload.ResumeURLs == nil {
			body.Payload.ResumeURLs = []string{}
		}
		res.Success = &body.Payload
		res.Meta = body.Meta
	case OutcomeFailure:
		var body FailureResult
		if err := json.Unmarshal(msg.Value, &body); err != nil {
			return Result{}, errors.Wrapf(err, "decode failure result %d", msg.ID)
		}
		res.Failure = &body.Payload
		res.Meta = body.Meta
	default:
		return Result{}, errors.Newf("result %d has unknown outcome %q", msg.ID, res.Outcome)
	}
	return res, nil
}
