package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "pollwatch/pkg/logx"
)

// notifyReady tells systemd (Type=notify units) that startup finished.
// Outside systemd it is a no-op.
func notifyReady(log logx.Logger) {
	sdNotify(log, daemon.SdNotifyReady)
}

func notifyStopping(log logx.Logger) {
	sdNotify(log, daemon.SdNotifyStopping)
}

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings the systemd watchdog at half its interval while the poll
// loop keeps ticking. A stalled loop stops the pings and systemd restarts
// the unit. Without WatchdogSec it returns at once.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return nil
	}
	if interval <= 0 {
		return nil
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if !a.pollLoopAlive(time.Now()) {
			a.log.Warn("poll loop stalled; withholding watchdog ping")
			continue
		}
		sdNotify(a.log, daemon.SdNotifyWatchdog)
	}
}

// pollLoopAlive mirrors the /healthz staleness rule: a loop that has not
// ticked for three periods plus a minute is stalled.
func (a *App) pollLoopAlive(now time.Time) bool {
	snap := a.sched.Snapshot()
	if snap.Ticks == 0 || snap.Tick <= 0 {
		return true
	}
	return now.Sub(snap.LastAt) <= 3*snap.Tick+time.Minute
}
