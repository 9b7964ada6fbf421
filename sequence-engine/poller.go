package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/engine"
	"github.com/relaycrm/relay-go/internal/platform/queue"
)

// poller pulls jobs from the queue and hands them to the runner. The runner
// settles every message it sees; the poller only deletes poison messages
// that never become jobs.
type poller struct {
	logger     *slog.Logger
	queue      queue.Queue
	runner     batchRunner
	batchSize  int
	visibility time.Duration
}

// Tick reads one batch and runs it. It reports how many messages were read.
func (p *poller) Tick(ctx context.Context) (int, error) {
	msgs, err := p.queue.Read(ctx, p.batchSize, p.visibility)
	if err != nil {
		return 0, fmt.Errorf("read queue: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	jobs := make([]domain.Job, 0, len(msgs))
	for _, msg := range msgs {
		job, err := engine.ParseMessage(msg.Body, msg.ID)
		if err != nil {
			p.logger.Warn("poison message dropped",
				"message_id", msg.ID,
				"read_count", msg.ReadCount,
				"error", err.Error(),
			)
			if delErr := p.queue.Delete(ctx, msg.ID); delErr != nil {
				p.logger.Warn("delete poison message failed", "message_id", msg.ID, "error", delErr.Error())
			}
			continue
		}
		jobs = append(jobs, job)
	}
	if len(jobs) > 0 {
		p.runner.RunJobs(ctx, jobs)
	}
	return len(msgs), nil
}

// Drain ticks until the queue comes back empty or maxBatches is reached.
func (p *poller) Drain(ctx context.Context, maxBatches int) (int, error) {
	total := 0
	for i := 0; i < maxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := p.Tick(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	p.logger.Warn("drain stopped at batch limit", "max_batches", maxBatches, "messages", total)
	return total, nil
}

// Start schedules Tick on schedule until ctx is done. A tick still running
// when the next one fires causes that one to be skipped. The returned wait
// blocks until the scheduler and any running tick have stopped.
func (p *poller) Start(ctx context.Context, schedule string) (wait func(), err error) {
	cl := cronLogger{logger: p.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if _, err := p.Tick(ctx); err != nil {
			p.logger.Error("poll tick failed", "error", err.Error())
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule poller: %w", err)
	}
	c.Start()
	p.logger.Info("queue poller started", "schedule", schedule, "batch_size", p.batchSize)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		close(done)
	}()
	return func() { <-done }, nil
}

// cronLogger routes scheduler logs to slog. Routine scheduling chatter is
// debug level.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err.Error())
	}
	l.logger.Error("cron: "+msg, keysAndValues...)
}
