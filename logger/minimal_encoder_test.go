package logger

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/gdscraper/errors"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes ANSI color codes from a string for testing
func stripANSI(str string) string {
	return ansiRegex.ReplaceAllString(str, "")
}

func encode(t *testing.T, enc zapcore.Encoder, ent zapcore.Entry, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(ent, fields)
	require.NoError(t, err)
	defer buf.Free()
	return stripANSI(buf.String())
}

func TestMinimalEncoderNeverDiscardsFields(t *testing.T) {
	enc := newMinimalEncoder()
	ent := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Date(2024, 5, 1, 13, 4, 35, 0, time.UTC),
		LoggerName: "scrape.runner",
		Message:    "Job finished",
	}

	out := encode(t, enc, ent,
		zap.String(FieldCorrelationKey, "4vJ9abc"),
		zap.String(FieldOutcome, "success"),
		zap.Int64(FieldDurationMS, 5321),
		zap.Bool("headless", true),
		zap.Strings("resume_urls", []string{"mem://a", "mem://b"}),
		zap.String("field.with.dots", "kept"),
	)

	assert.Contains(t, out, "13:04:35")
	assert.Contains(t, out, "s.runner")
	assert.Contains(t, out, "Job finished")
	assert.Contains(t, out, "key=4vJ9abc")
	assert.Contains(t, out, "outcome=success")
	assert.Contains(t, out, "duration_ms=5321")
	assert.Contains(t, out, "headless=true")
	assert.Contains(t, out, `resume_urls=["mem://a","mem://b"]`)
	assert.Contains(t, out, "field.with.dots=kept")
	assert.NotContains(t, out, "INFO", "info level is implicit")
}

func TestMinimalEncoderKeepsWithFields(t *testing.T) {
	enc := newMinimalEncoder()
	zap.String(FieldJobID, "JB1").AddTo(enc)

	clone := enc.Clone()
	out := encode(t, clone, zapcore.Entry{Level: zapcore.WarnLevel, Time: time.Now(), Message: "Retrying"},
		zap.Int(FieldCount, 2))

	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "job_id=JB1 count=2")
}

func TestMinimalEncoderHidesVerboseErrors(t *testing.T) {
	enc := newMinimalEncoder()
	out := encode(t, enc, zapcore.Entry{Level: zapcore.ErrorLevel, Time: time.Now(), Message: "Publish failed"},
		zap.Error(errors.Wrap(errors.New("disk full"), "send")))

	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "error=send: disk full")
	assert.NotContains(t, out, "errorVerbose")
}

func TestAbbreviateName(t *testing.T) {
	assert.Equal(t, "s.runner", abbreviateName("scrape.runner"))
	assert.Equal(t, "p.worker.pool", abbreviateName("pulse.worker.pool"))
	assert.Equal(t, "bus", abbreviateName("bus"))
}
