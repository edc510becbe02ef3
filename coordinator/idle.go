package coordinator

import (
	"context"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/types"
)

// idleCheckInterval is how often the idle monitor looks at last activity.
const idleCheckInterval = time.Minute

// Touch records activity, pushing the idle auto-stop window out.
func (c *Coordinator) Touch() {
	c.stateMu.Lock()
	c.lastActivity = time.Now()
	c.stateMu.Unlock()
}

// startIdleMonitor launches the auto-stop watcher. Disabled when the idle
// window is zero. Caller holds opMu.
func (c *Coordinator) startIdleMonitor() {
	if c.conf.IdleStopMinutes <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.idleCancel = cancel
	go c.idleLoop(ctx, time.Duration(c.conf.IdleStopMinutes)*time.Minute)
}

// stopIdleMonitor cancels the watcher. Caller holds opMu.
func (c *Coordinator) stopIdleMonitor() {
	if c.idleCancel != nil {
		c.idleCancel()
		c.idleCancel = nil
	}
}

func (c *Coordinator) idleLoop(ctx context.Context, window time.Duration) {
	logger := log.WithFunc("coordinator.idleLoop")
	interval := idleCheckInterval
	if interval > window {
		interval = window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != types.StateRunning {
				continue
			}
			c.stateMu.RLock()
			idleFor := time.Since(c.lastActivity)
			c.stateMu.RUnlock()
			if idleFor < window {
				continue
			}
			logger.Infof(ctx, "idle for %s (window %s), stopping workload", idleFor.Truncate(time.Second), window)
			if err := c.Stop(context.WithoutCancel(ctx)); err != nil {
				logger.Warnf(ctx, "idle auto-stop: %v", err)
			}
			return
		}
	}
}
