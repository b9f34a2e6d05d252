package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func testEvent() Event {
	return Event{
		ScriptID:  "script-1",
		Stage:     "scoring",
		Progress:  60,
		Detail:    map[string]any{"questions": 3},
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRedisSink_Publish(t *testing.T) {
	pub := &fakePublisher{}
	sink := &RedisSink{client: pub, channel: DefaultChannel}

	require.NoError(t, sink.Publish(context.Background(), testEvent()))
	assert.Equal(t, "gradeflow:progress", pub.channel)

	var got Event
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, "script-1", got.ScriptID)
	assert.Equal(t, "scoring", got.Stage)
	assert.Equal(t, 60, got.Progress)
	assert.EqualValues(t, 3, got.Detail["questions"])
}

func TestRedisSink_PublishError(t *testing.T) {
	sink := &RedisSink{client: &fakePublisher{err: errors.New("connection reset")}, channel: "c"}
	err := sink.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNewRedisSink_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisSink(ctx, "127.0.0.1:1", "")
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Publish(context.Background(), testEvent()))
	out := buf.String()
	assert.Contains(t, out, "script_id=script-1")
	assert.Contains(t, out, "stage=scoring")
	assert.Contains(t, out, "questions=3")
}

type failingSink struct{ calls int }

func (f *failingSink) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestMultiSink(t *testing.T) {
	first, second := &failingSink{}, &failingSink{}
	pub := &fakePublisher{}
	multi := MultiSink{first, &RedisSink{client: pub, channel: "c"}, second}

	err := multi.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "sink down"))
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, "c", pub.channel, "a failing sink must not stop delivery to the others")

	assert.NoError(t, Nop{}.Publish(context.Background(), testEvent()))
}
