package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedex/coursedex/internal/lease"
	"github.com/coursedex/coursedex/internal/logger"
	"github.com/coursedex/coursedex/internal/reindex"
)

type mockPublisher struct {
	topic string
	body  []byte
	err   error
}

func (m *mockPublisher) Publish(topic string, body []byte) error {
	m.topic = topic
	m.body = body
	return m.err
}

type mockExecutor struct {
	jobs  []reindex.Job
	runID string
	err   error
}

func (m *mockExecutor) Execute(ctx context.Context, job reindex.Job) (*reindex.RunResult, error) {
	m.jobs = append(m.jobs, job)
	m.runID = logger.RunID(ctx)
	if m.err != nil {
		return nil, m.err
	}
	return &reindex.RunResult{Generation: "g001"}, nil
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestDispatcher_PublishesJob(t *testing.T) {
	pub := &mockPublisher{}
	d := NewDispatcher(pub, "coursedex.reindex")

	job := reindex.Job{RunID: "run-1", Task: reindex.TaskName, Holder: "holder-1"}
	require.NoError(t, d.Dispatch(context.Background(), job))

	assert.Equal(t, "coursedex.reindex", pub.topic)
	var got reindex.Job
	require.NoError(t, json.Unmarshal(pub.body, &got))
	assert.Equal(t, job, got)
}

func TestDispatcher_PublishError(t *testing.T) {
	pub := &mockPublisher{err: errors.New("connection refused")}
	d := NewDispatcher(pub, "t")

	err := d.Dispatch(context.Background(), reindex.Job{RunID: "r", Holder: "h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHandler_ExecutesJob(t *testing.T) {
	exec := &mockExecutor{}
	var logs bytes.Buffer
	h := NewHandler(exec, testLogger(&logs))

	body, _ := json.Marshal(reindex.Job{RunID: "run-1", Task: reindex.TaskName, Holder: "holder-1"})
	err := h.HandleMessage(&nsq.Message{Body: body})
	require.NoError(t, err)

	require.Len(t, exec.jobs, 1)
	assert.Equal(t, "holder-1", exec.jobs[0].Holder)
	assert.Equal(t, "run-1", exec.runID)
	assert.Contains(t, logs.String(), "reindex job done")
}

func TestHandler_DefaultsTask(t *testing.T) {
	exec := &mockExecutor{}
	h := NewHandler(exec, testLogger(&bytes.Buffer{}))

	require.NoError(t, h.HandleMessage(&nsq.Message{Body: []byte(`{"run_id":"r","holder":"h"}`)}))
	require.Len(t, exec.jobs, 1)
	assert.Equal(t, reindex.TaskName, exec.jobs[0].Task)
}

func TestHandler_PoisonPills(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"invalid json", "invalid json"},
		{"missing holder", `{"run_id":"r"}`},
		{"missing run id", `{"holder":"h"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{}
			h := NewHandler(exec, testLogger(&bytes.Buffer{}))

			err := h.HandleMessage(&nsq.Message{Body: []byte(tt.body)})
			assert.NoError(t, err)
			assert.Empty(t, exec.jobs)
		})
	}
}

func TestHandler_FailedRunsAreNotRequeued(t *testing.T) {
	tests := []struct {
		name string
		err  error
		log  string
	}{
		{"stale lease", fmt.Errorf("claiming run r: %w", lease.ErrLost), "dropping stale job"},
		{"run failed", errors.New("training index: disk full"), "reindex job failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			h := NewHandler(&mockExecutor{err: tt.err}, testLogger(&logs))

			err := h.HandleMessage(&nsq.Message{Body: []byte(`{"run_id":"r","holder":"h"}`)})
			assert.NoError(t, err)
			assert.Contains(t, logs.String(), tt.log)
		})
	}
}

type countingToucher struct {
	touches atomic.Int32
}

func (c *countingToucher) Touch() { c.touches.Add(1) }

type sleepingExecutor struct {
	d time.Duration
}

func (s sleepingExecutor) Execute(context.Context, reindex.Job) (*reindex.RunResult, error) {
	time.Sleep(s.d)
	return &reindex.RunResult{}, nil
}

func TestHandler_TouchesMessageDuringRun(t *testing.T) {
	h := NewHandler(sleepingExecutor{d: 80 * time.Millisecond}, testLogger(&bytes.Buffer{}),
		WithTouchInterval(10*time.Millisecond))
	msg := &countingToucher{}

	require.NoError(t, h.handle([]byte(`{"run_id":"r","holder":"h"}`), msg))
	touched := msg.touches.Load()
	assert.GreaterOrEqual(t, touched, int32(2))

	// Touching stops with the run.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, touched, msg.touches.Load())
}

func TestHandler_NoTouchIntervalNeverTouches(t *testing.T) {
	h := NewHandler(sleepingExecutor{d: 20 * time.Millisecond}, testLogger(&bytes.Buffer{}))
	msg := &countingToucher{}

	require.NoError(t, h.handle([]byte(`{"run_id":"r","holder":"h"}`), msg))
	assert.Zero(t, msg.touches.Load())
}

func TestMessageTimeout(t *testing.T) {
	assert.Equal(t, 10*time.Minute, MessageTimeout(10*time.Minute))
	assert.Equal(t, 15*time.Minute, MessageTimeout(time.Hour))
	assert.Zero(t, MessageTimeout(0))
}

func TestNSQLogger_Levels(t *testing.T) {
	var logs bytes.Buffer
	l := nsqLogger{testLogger(&logs)}

	require.NoError(t, l.Output(2, "ERR    1 [t/c] error connecting"))
	require.NoError(t, l.Output(2, "INF    1 [t/c] connected"))

	out := logs.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "component=nsq")
}
