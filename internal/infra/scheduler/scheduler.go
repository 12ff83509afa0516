package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"lead_email_automation/internal/app"
)

// Sweeper runs one due-email sweep.
type Sweeper interface {
	ProcessNow(ctx context.Context) app.SweepSummary
}

// ReplyChecker looks for new lead replies and reports how many it applied.
type ReplyChecker interface {
	CheckReplies(ctx context.Context) (int, error)
}

type AutomationScheduler struct {
	cronEngine         *cron.Cron
	sweeper            Sweeper
	replies            ReplyChecker // nil disables the reply job
	logger             *logrus.Entry
	cronSpecSweep      string
	cronSpecReplyCheck string
	sweepTimeout       time.Duration
}

func NewAutomationScheduler(
	sweeper Sweeper,
	replies ReplyChecker,
	logger *logrus.Entry,
	cronSpecSweep string, // e.g. "* * * * *" (every minute)
	cronSpecReplyCheck string, // e.g. "*/5 * * * *"
	sweepTimeout time.Duration,
) *AutomationScheduler {
	return &AutomationScheduler{
		// SkipIfStillRunning keeps a slow sweep from stacking up behind itself.
		cronEngine: cron.New(
			cron.WithLocation(time.Local),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		sweeper:            sweeper,
		replies:            replies,
		logger:             logger.WithField("component", "scheduler"),
		cronSpecSweep:      cronSpecSweep,
		cronSpecReplyCheck: cronSpecReplyCheck,
		sweepTimeout:       sweepTimeout,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *AutomationScheduler) Start() error {
	s.logger.Info("Starting automation scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecSweep, s.runSweep); err != nil {
		return fmt.Errorf("could not add sweep cron job %q: %w", s.cronSpecSweep, err)
	}

	if s.replies != nil {
		if _, err := s.cronEngine.AddFunc(s.cronSpecReplyCheck, s.runReplyCheck); err != nil {
			return fmt.Errorf("could not add reply check cron job %q: %w", s.cronSpecReplyCheck, err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Automation scheduler started")
	return nil
}

func (s *AutomationScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.sweepTimeout)
	defer cancel()
	summary := s.sweeper.ProcessNow(ctx)
	if summary.Selected > 0 || summary.Errors > 0 {
		s.logger.WithFields(logrus.Fields{
			"sent":   summary.Sent,
			"failed": summary.Failed,
			"errors": summary.Errors,
		}).Info(summary.Message)
	}
}

func (s *AutomationScheduler) runReplyCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.replies.CheckReplies(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Reply check failed")
		return
	}
	if n > 0 {
		s.logger.WithField("replies", n).Info("Lead replies recorded")
	}
}

func (s *AutomationScheduler) Stop() {
	s.logger.Info("Stopping automation scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.logger.Info("Automation scheduler gracefully stopped")
}
