package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dealerscan/config"
	"dealerscan/models"
)

// Runner is the scan loop the scheduler drives.
type Runner interface {
	// RunScheduled runs a cycle unless the loop is paused.
	RunScheduled(ctx context.Context) error
	// RunNow runs a cycle regardless of pause state.
	RunNow(ctx context.Context) (*models.ScrapeResult, error)
	Pause()
	Resume()
	SetFrequency(f config.Frequency) error
}

// CommandQueue is where out-of-process commands are picked up.
type CommandQueue interface {
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
}

const commandPollInterval = 2 * time.Second

type Scheduler struct {
	runner   Runner
	commands CommandQueue
	logger   *zap.Logger
	cronExpr string
	cron     *cron.Cron
	now      func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	entry    cron.EntryID
	hasEntry bool
	schedule cron.Schedule

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a scheduler. A non-empty cronExpr overrides the frequency.
func New(runner Runner, commands CommandQueue, cronExpr string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Named("cron")}
	return &Scheduler{
		runner:   runner,
		commands: commands,
		logger:   logger,
		cronExpr: cronExpr,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		now:    time.Now,
		ctx:    context.Background(),
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context, freq config.Frequency) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.commands != nil {
		go s.pollCommands(ctx)
	}

	if s.cronExpr != "" {
		sched, err := cron.ParseStandard(s.cronExpr)
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.logger.Info("starting scheduler with cron", zap.String("cron", s.cronExpr))
		s.mu.Lock()
		s.entry = s.cron.Schedule(sched, s.job())
		s.hasEntry = true
		s.schedule = sched
		s.mu.Unlock()
	} else {
		s.Reschedule(freq)
	}

	s.cron.Start()
	return nil
}

// Reschedule drops the pending run and computes the next one from now.
// Manual frequency leaves nothing scheduled. Ignored under a cron override.
func (s *Scheduler) Reschedule(freq config.Frequency) {
	if s.cronExpr != "" {
		s.logger.Debug("cron override active, schedule unchanged", zap.String("frequency", string(freq)))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasEntry {
		s.cron.Remove(s.entry)
		s.hasEntry = false
		s.schedule = nil
	}
	if freq == config.Manual {
		s.logger.Info("manual frequency, no scan scheduled")
		return
	}

	sched := FrequencySchedule{Frequency: freq}
	s.entry = s.cron.Schedule(sched, s.job())
	s.hasEntry = true
	s.schedule = sched

	next := sched.Next(s.now())
	s.logger.Info("scan scheduled", zap.String("frequency", string(freq)), zap.Time("next", next))
}

// NextRun returns the next scheduled scan time, if any.
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasEntry {
		return time.Time{}, false
	}
	if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
		return next, true
	}
	next := s.schedule.Next(s.now())
	return next, !next.IsZero()
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.cron.Stop().Done()
	})
}

func (s *Scheduler) job() cron.Job {
	return cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if err := s.runner.RunScheduled(ctx); err != nil {
			s.logger.Error("scheduled run error", zap.Error(err))
		}
	})
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.commands.GetPendingCommands(ctx)
	if err != nil {
		s.logger.Error("error getting commands", zap.Error(err))
		return
	}

	for _, cmd := range cmds {
		s.logger.Info("processing command", zap.String("command", string(cmd.Command)))
		if err := s.handleCommand(ctx, &cmd); err != nil {
			s.logger.Error("command error", zap.String("command", string(cmd.Command)), zap.Error(err))
		}
		if err := s.commands.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			s.logger.Error("error marking command processed", zap.Int64("id", cmd.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdScanNow:
		go func() {
			if _, err := s.runner.RunNow(ctx); err != nil {
				s.logger.Error("manual scan error", zap.Error(err))
			}
		}()
		return nil
	case models.CmdPause:
		s.runner.Pause()
		return nil
	case models.CmdResume:
		s.runner.Resume()
		return nil
	case models.CmdSetFrequency:
		var params models.CommandParams
		if len(cmd.Params) > 0 {
			if err := json.Unmarshal(cmd.Params, &params); err != nil {
				return fmt.Errorf("decode params: %w", err)
			}
		}
		freq, err := config.ParseFrequency(params.Frequency)
		if err != nil {
			return err
		}
		return s.runner.SetFrequency(freq)
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
