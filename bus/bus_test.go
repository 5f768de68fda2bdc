package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gdscraper/errors"
	gdtest "github.com/teranos/gdscraper/internal/testing"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const topic = "input-glassdoor"

func newTestBus(t *testing.T) *Bus {
	return New(gdtest.CreateTestDB(t), zaptest.NewLogger(t).Sugar())
}

func TestSendAssignsIDsAndHeaders(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	first := &Message{Key: "k1", Value: []byte(`{"n":1}`), Headers: map[string]string{"outcome": "success"}}
	second := &Message{Key: "k2", Value: []byte(`{"n":2}`)}
	require.NoError(t, b.Producer().Send(ctx, topic, first, second))

	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, topic, first.Topic)
	assert.False(t, first.CreatedAt.IsZero())

	msgs, err := b.List(ctx, topic, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "k1", msgs[0].Key)
	assert.Equal(t, []byte(`{"n":1}`), msgs[0].Value)
	assert.Equal(t, "success", msgs[0].Header("outcome"))
	assert.Equal(t, "", msgs[1].Header("outcome"))
	assert.Nil(t, msgs[1].Headers)

	after, err := b.List(ctx, topic, first.ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "k2", after[0].Key)
}

func TestSendRequiresTopic(t *testing.T) {
	b := newTestBus(t)
	err := b.Producer().Send(context.Background(), "", &Message{Key: "k"})
	assert.True(t, errors.IsInvalidRequestError(err))

	assert.NoError(t, b.Producer().Send(context.Background(), topic))
}

func TestTopicsAreIsolated(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.Producer().Send(ctx, "output-success-glassdoor", &Message{Key: "s"}))
	require.NoError(t, b.Producer().Send(ctx, "output-failure-glassdoor", &Message{Key: "f"}))

	msgs, err := b.List(ctx, "output-failure-glassdoor", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "f", msgs[0].Key)
}

func TestLatestReturnsNewestFirst(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Producer().Send(ctx, topic, &Message{Key: fmt.Sprintf("k%d", i)}))
	}

	msgs, err := b.Latest(ctx, topic, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "k4", msgs[0].Key)
	assert.Equal(t, "k3", msgs[1].Key)
}

func TestConsumerGroupDeliversOnce(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.Producer().Send(ctx, topic, &Message{Key: "a"}, &Message{Key: "b"}))

	group := b.Consumer("gdscraper")
	first, err := group.Next(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Key)

	second, err := group.Next(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, "b", second.Key)

	_, err = group.Next(ctx, topic)
	assert.ErrorIs(t, err, ErrNoMessage)

	offset, err := b.Offset(ctx, "gdscraper", topic)
	require.NoError(t, err)
	assert.Equal(t, second.ID, offset)

	// A second consumer of the same group continues from the committed offset
	_, err = b.Consumer("gdscraper").Next(ctx, topic)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestEveryGroupSeesEveryMessage(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.Producer().Send(ctx, topic, &Message{Key: "a"}))

	for _, group := range []string{"scraper-1", "audit"} {
		msg, err := b.Consumer(group).Next(ctx, topic)
		require.NoError(t, err, group)
		assert.Equal(t, "a", msg.Key)
	}

	offset, err := b.Offset(ctx, "never-read", topic)
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)
}

func TestNextOnEmptyTopic(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Consumer("g").Next(context.Background(), topic)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestSubscribersReceiveSentMessages(t *testing.T) {
	b := newTestBus(t)
	sub := b.Subscribe()

	require.NoError(t, b.Producer().Send(context.Background(), topic, &Message{Key: "k"}))

	select {
	case msg := <-sub:
		assert.Equal(t, "k", msg.Key)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}

	b.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := newTestBus(t)
	_ = b.Subscribe()

	msgs := make([]*Message, SubscriberChannelBufferSize+10)
	for i := range msgs {
		msgs[i] = &Message{Key: fmt.Sprintf("k%d", i)}
	}
	require.NoError(t, b.Producer().Send(context.Background(), topic, msgs...))
}

func TestPollConsumesUntilCancelled(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var keys []string
	done := make(chan error, 1)
	go func() {
		done <- b.Consumer("gdscraper").Poll(ctx, topic, time.Hour, func(ctx context.Context, msg *Message) error {
			mu.Lock()
			keys = append(keys, msg.Key)
			mu.Unlock()
			if msg.Key == "bad" {
				return errors.New("handler rejected message")
			}
			return nil
		})
	}()

	// The subscription wakes the poller long before the hourly tick
	require.NoError(t, b.Producer().Send(context.Background(), topic, &Message{Key: "bad"}))
	require.NoError(t, b.Producer().Send(context.Background(), topic, &Message{Key: "good"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(keys) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not stop")
	}

	mu.Lock()
	assert.Equal(t, []string{"bad", "good"}, keys, "handler errors do not redeliver")
	mu.Unlock()
}

func TestCleanupRemovesOldMessages(t *testing.T) {
	conn := gdtest.CreateTestDB(t)
	b := New(conn, nil)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err := conn.Exec(`INSERT INTO bus_messages (topic, key, value, created_at) VALUES (?, 'old', x'', ?)`, topic, old)
	require.NoError(t, err)
	require.NoError(t, b.Producer().Send(ctx, topic, &Message{Key: "fresh"}))

	deleted, err := b.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	msgs, err := b.List(ctx, topic, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh", msgs[0].Key)
}

func TestSendRollsBackOnInsertFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bus_messages").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	b := New(mockDB, zap.NewNop().Sugar())
	err = b.Producer().Send(context.Background(), topic, &Message{Key: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append message")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Contains(t, errors.GetAllDetails(err), "Topic: "+topic)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextReportsOffsetFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bus_offsets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT last_id FROM bus_offsets").
		WillReturnRows(sqlmock.NewRows([]string{"last_id"}).AddRow(4))
	mock.ExpectQuery("SELECT id, topic, key, value, headers, created_at FROM bus_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic", "key", "value", "headers", "created_at"}).
			AddRow(5, topic, "k", []byte("{}"), nil, time.Now()))
	mock.ExpectExec("UPDATE bus_offsets").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err = New(mockDB, nil).Consumer("gdscraper").Next(context.Background(), topic)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMessage)
	assert.Contains(t, err.Error(), "failed to advance offset")
	details := errors.GetAllDetails(err)
	assert.Contains(t, details, "Group: gdscraper")
	assert.Contains(t, details, "Message ID: 5")

	assert.NoError(t, mock.ExpectationsWereMet())
}
