package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/message"
	"github.com/teranos/gdscraper/pulse/async"
	"github.com/teranos/gdscraper/scrape"
)

func TestBuildInputMessage(t *testing.T) {
	msg, err := buildInputMessage("yugi@domino.jp", "exodia", "yugi-1")
	require.NoError(t, err)
	assert.Equal(t, "yugi-1", msg.Key)

	input, err := message.ParseInput(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "yugi@domino.jp", input.Auth.Email)
	assert.Equal(t, "exodia", input.Auth.Password)
}

func TestBuildInputMessagePasswordFromEnv(t *testing.T) {
	t.Setenv(passwordEnv, "blue-eyes")
	msg, err := buildInputMessage("kaiba@kaibacorp.jp", "", "")
	require.NoError(t, err)

	input, err := message.ParseInput(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "blue-eyes", input.Auth.Password)
}

func TestBuildInputMessageRejectsInvalidCredentials(t *testing.T) {
	t.Setenv(passwordEnv, "")

	_, err := buildInputMessage("yugi@domino.jp", "", "")
	assert.Error(t, err, "missing password")

	_, err = buildInputMessage("not-an-address", "exodia", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, message.ErrInvalidInput))
	assert.NotContains(t, err.Error(), "exodia")
}

func TestResultsTable(t *testing.T) {
	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	results := []message.Result{
		{
			ID:          2,
			Key:         "kaiba-1",
			Outcome:     message.OutcomeSuccess,
			PublishedAt: published,
			Success: &message.SuccessPayload{
				UserData:   scrape.UserData{Firstname: "Seto", Lastname: "Kaiba"},
				ResumeURLs: []string{"mem://a.pdf", "mem://b.pdf"},
			},
			Meta: message.Meta{MS: 1234.4},
		},
		{
			ID:          1,
			Key:         "yugi-1",
			Outcome:     message.OutcomeFailure,
			PublishedAt: published,
			Failure:     &message.FailurePayload{Reason: "AUTHENTICATION_FAILED"},
		},
	}

	data := resultsTable(results)
	require.Len(t, data, 3)
	assert.Equal(t, []string{"ID", "Key", "Outcome", "Detail", "Elapsed", "Published"}, data[0])
	assert.Equal(t, "2", data[1][0])
	assert.Equal(t, "Seto Kaiba, 2 resume(s)", data[1][3])
	assert.Equal(t, "1234ms", data[1][4])
	assert.Equal(t, "AUTHENTICATION_FAILED", data[2][3])
}

func TestResultDetailWithoutName(t *testing.T) {
	r := message.Result{Success: &message.SuccessPayload{}}
	assert.Equal(t, "(no name), 0 resume(s)", resultDetail(r))
	assert.Equal(t, "", resultDetail(message.Result{}))
}

func TestJobsTable(t *testing.T) {
	done, err := async.NewJob("glassdoor.scrape", "kirby-1", nil)
	require.NoError(t, err)
	done.Start()
	done.Complete("success")

	failed, err := async.NewJob("glassdoor.scrape", "kirby-2", nil)
	require.NoError(t, err)
	failed.Start()
	failed.Fail(errors.New("invalid input"))

	queued, err := async.NewJob("glassdoor.scrape", "kirby-3", nil)
	require.NoError(t, err)

	data := jobsTable([]*async.Job{done, failed, queued})
	require.Len(t, data, 4)
	assert.Equal(t, "kirby-1", data[1][1])
	assert.Equal(t, "completed", data[1][2])
	assert.Equal(t, "success", data[1][3])
	assert.NotEqual(t, "-", data[1][4])
	assert.Equal(t, "invalid input", data[2][3])
	assert.Equal(t, "queued", data[3][2])
	assert.Equal(t, "-", data[3][4])
}

func TestRedactedConfig(t *testing.T) {
	cfg := am.DefaultConfig()
	cfg.Storage.S3.AccessKeyID = "AKIACRONOS"
	cfg.Storage.S3.SecretAccessKey = "time-wizard"

	out := redactedConfig(cfg)
	assert.Equal(t, "[REDACTED]", out.Storage.S3.AccessKeyID)
	assert.Equal(t, "[REDACTED]", out.Storage.S3.SecretAccessKey)
	assert.Equal(t, "AKIACRONOS", cfg.Storage.S3.AccessKeyID, "original config is untouched")

	for _, format := range []string{"toml", "json", "yaml"} {
		text, err := formatConfig(out, format)
		require.NoError(t, err, format)
		assert.NotContains(t, text, "time-wizard", format)
		assert.Contains(t, text, "input-glassdoor", format)
	}

	_, err := formatConfig(out, "xml")
	assert.Error(t, err)
}
