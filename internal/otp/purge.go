package otp

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultPurgeSchedule runs the purge once a minute.
const DefaultPurgeSchedule = "@every 1m"

// PurgeScheduleFromEnv reads OTP_PURGE_SCHEDULE (any robfig/cron spec).
func PurgeScheduleFromEnv() string {
	if v := os.Getenv("OTP_PURGE_SCHEDULE"); v != "" {
		return v
	}
	return DefaultPurgeSchedule
}

// PurgeScheduler removes spent codes on a cron schedule.
type PurgeScheduler struct {
	issuer *Issuer
	logger *zap.SugaredLogger
	cron   *cron.Cron
}

func NewPurgeScheduler(issuer *Issuer, logger *zap.SugaredLogger) *PurgeScheduler {
	return &PurgeScheduler{issuer: issuer, logger: logger, cron: cron.New()}
}

// Start registers the job and starts the cron runner.
func (p *PurgeScheduler) Start(schedule string) error {
	if _, err := p.cron.AddFunc(schedule, p.RunOnce); err != nil {
		return err
	}
	p.cron.Start()
	p.logger.Infow("otp purge scheduled", "schedule", schedule)
	return nil
}

// RunOnce performs one purge pass.
func (p *PurgeScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := p.issuer.Purge(ctx)
	if err != nil {
		p.logger.Warnw("otp purge failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.Debugw("otp purge", "removed", n)
	}
}

// Stop halts the runner and waits for a running purge to finish.
func (p *PurgeScheduler) Stop() {
	<-p.cron.Stop().Done()
}
