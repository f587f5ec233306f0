// Package schedule runs the pipeline jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RunFunc is one scheduled unit of work.
type RunFunc func(ctx context.Context) error

// Scheduler wraps a cron instance. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	names  map[cron.EntryID]string
}

// New builds a stopped Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("schedule")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		parser: parser,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		names:  make(map[cron.EntryID]string),
	}
}

// Add registers run under spec. An empty spec disables the job and is not an error.
func (s *Scheduler) Add(name, spec string, run RunFunc) error {
	if spec == "" {
		s.logger.Info("job disabled", zap.String("job", name))
		return nil
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule for %s: %w", name, err)
	}
	id := s.cron.Schedule(sched, cron.FuncJob(s.wrap(name, run)))

	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()

	s.logger.Info("job scheduled",
		zap.String("job", name),
		zap.String("spec", spec),
		zap.Time("next_run", sched.Next(time.Now())),
	)
	return nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.names))
	for _, e := range s.cron.Entries() {
		out = append(out, s.names[e.ID])
	}
	return out
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) wrap(name string, run RunFunc) func() {
	return func() {
		start := time.Now()
		if err := run(s.ctx); err != nil {
			s.logger.Error("scheduled job failed",
				zap.String("job", name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("scheduled job finished",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
