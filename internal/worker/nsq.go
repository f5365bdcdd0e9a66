// Package worker moves reindex jobs through NSQ so a long-running worker
// process can execute runs triggered elsewhere.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/coursedex/coursedex/internal/lease"
	"github.com/coursedex/coursedex/internal/logger"
	"github.com/coursedex/coursedex/internal/reindex"
)

// maxMsgTimeout is the largest message timeout nsqd accepts by default.
const maxMsgTimeout = 15 * time.Minute

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Dispatcher publishes reindex jobs to an NSQ topic.
type Dispatcher struct {
	pub   Publisher
	topic string
}

// NewDispatcher creates a Dispatcher publishing to topic.
func NewDispatcher(pub Publisher, topic string) *Dispatcher {
	return &Dispatcher{pub: pub, topic: topic}
}

// Dispatch implements reindex.Dispatcher.
func (d *Dispatcher) Dispatch(_ context.Context, job reindex.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	if err := d.pub.Publish(d.topic, body); err != nil {
		return fmt.Errorf("publishing to %s: %w", d.topic, err)
	}
	return nil
}

// NewProducer connects a producer to nsqd and checks that it answers.
func NewProducer(addr string, l *slog.Logger) (*nsq.Producer, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	p.SetLogger(nsqLogger{l}, nsq.LogLevelWarning)
	if err := p.Ping(); err != nil {
		p.Stop()
		return nil, fmt.Errorf("reaching nsqd at %s: %w", addr, err)
	}
	return p, nil
}

// MessageTimeout caps d at the largest message timeout nsqd accepts.
func MessageTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return min(d, maxMsgTimeout)
}

// toucher is the part of *nsq.Message that resets its timeout.
type toucher interface {
	Touch()
}

// Handler executes reindex jobs delivered by NSQ.
type Handler struct {
	exec       reindex.Executor
	logger     *slog.Logger
	touchEvery time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTouchInterval touches the message every d while its job runs, so a run
// longer than the message timeout is not redelivered. Use less than the
// consumer's MsgTimeout.
func WithTouchInterval(d time.Duration) HandlerOption {
	return func(h *Handler) { h.touchEvery = d }
}

// NewHandler creates a Handler running jobs through exec.
func NewHandler(exec reindex.Executor, l *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{exec: exec, logger: l}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMessage implements nsq.Handler. Jobs are never requeued: the run
// outcome is recorded in run history, and a retry needs a fresh lease.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	return h.handle(m.Body, m)
}

func (h *Handler) handle(body []byte, msg toucher) error {
	if len(body) == 0 {
		return nil
	}

	var job reindex.Job
	if err := json.Unmarshal(body, &job); err != nil {
		// Poison pill: invalid JSON, don't retry
		h.logger.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if job.RunID == "" || job.Holder == "" {
		h.logger.Error("poison pill: job without run id or holder", "body", string(body))
		return nil
	}
	if job.Task == "" {
		job.Task = reindex.TaskName
	}

	ctx := logger.WithRunID(context.Background(), job.RunID)
	stop := h.keepAlive(msg)
	result, err := h.exec.Execute(ctx, job)
	stop()

	switch {
	case errors.Is(err, lease.ErrLost):
		h.logger.WarnContext(ctx, "dropping stale job", "error", err)
	case err != nil:
		h.logger.ErrorContext(ctx, "reindex job failed", "error", err)
	default:
		h.logger.InfoContext(ctx, "reindex job done",
			"generation", result.Generation, "indexed", result.Indexed, "removed", result.Removed)
	}
	return nil
}

// keepAlive touches msg every touchEvery until the returned stop is called.
// stop returns once touching has ended.
func (h *Handler) keepAlive(msg toucher) (stop func()) {
	if h.touchEvery <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(h.touchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				msg.Touch()
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// ConsumerConfig says where a worker reads jobs from.
type ConsumerConfig struct {
	Topic   string
	Channel string
	// Lookupd takes precedence over NSQD when set.
	Lookupd string
	NSQD    string
	// MsgTimeout is capped at 15 minutes. Runs longer than that need a
	// Handler that touches its messages.
	MsgTimeout time.Duration
}

// Consume runs h on jobs from cfg until ctx is cancelled. Jobs are handled
// one at a time.
func Consume(ctx context.Context, cfg ConsumerConfig, h nsq.Handler, l *slog.Logger) error {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = 1
	if t := MessageTimeout(cfg.MsgTimeout); t > 0 {
		nsqCfg.MsgTimeout = t
	}

	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.SetLogger(nsqLogger{l}, nsq.LogLevelWarning)
	consumer.AddHandler(h)

	if cfg.Lookupd != "" {
		err = consumer.ConnectToNSQLookupd(cfg.Lookupd)
	} else {
		err = consumer.ConnectToNSQD(cfg.NSQD)
	}
	if err != nil {
		consumer.Stop()
		return fmt.Errorf("connecting consumer: %w", err)
	}
	l.InfoContext(ctx, "worker consuming", "topic", cfg.Topic, "channel", cfg.Channel)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	return nil
}

// nsqLogger forwards go-nsq's log lines to slog.
type nsqLogger struct {
	l *slog.Logger
}

func (n nsqLogger) Output(_ int, s string) error {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "ERR"):
		n.l.Error(s, "component", "nsq")
	case strings.HasPrefix(s, "WRN"):
		n.l.Warn(s, "component", "nsq")
	default:
		n.l.Debug(s, "component", "nsq")
	}
	return nil
}
