package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"invisible/internal/health"
)

var commandRun = &cli.Command{
	Name:  "run",
	Usage: "log in and keep the wallet reconciled with the exchange",
	Action: func(ctx *cli.Context) error {
		d, err := newDaemon(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.login(runCtx); err != nil {
			return err
		}
		d.log.Info().Str("user", d.session.UserID()).Str("version", version).Msg("wallet daemon started")
		d.loop(runCtx)
		d.log.Info().Msg("wallet daemon stopped")
		return nil
	},
}

// loop reconciles on every tick and reports health and metrics once a minute.
func (d *daemon) loop(ctx context.Context) {
	interval := d.cfg.ReconcileInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	reconcile := time.NewTicker(interval)
	defer reconcile.Stop()
	report := time.NewTicker(time.Minute)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			if err := d.session.Reconcile(ctx, d.backend); err != nil {
				d.log.Warn().Err(err).Msg("reconcile failed")
			}
		case <-report.C:
			d.report(ctx)
		}
	}
}

// report probes every component and logs the status with the metrics summary. Dead-lettered
// writes mark an otherwise reachable store as degraded.
func (d *daemon) report(ctx context.Context) *health.SystemHealth {
	h := d.health.Check(ctx)
	dead := len(d.persist.Failed())
	if dead > 0 && componentStatus(h, "store") == health.Healthy {
		d.health.Update("store", health.Degraded, fmt.Sprintf("%d writes dead-lettered", dead))
		h = d.health.Health()
	}

	ev := d.log.Info()
	if h.OverallStatus != health.Healthy {
		ev = d.log.Warn()
	}
	for _, c := range h.Components {
		ev = ev.Str(c.Name, string(c.Status))
	}
	ev.Interface("metrics", d.metrics.Summary()).
		Int("dead_letters", dead).
		Msg("status")
	return h
}

func componentStatus(h *health.SystemHealth, name string) health.Status {
	for _, c := range h.Components {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}
