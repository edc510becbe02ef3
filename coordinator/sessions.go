package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/storage"
	storejson "github.com/projecteru2/warden/storage/json"
	"github.com/projecteru2/warden/types"
)

// sessionIndex is the persisted session log, oldest first.
type sessionIndex struct {
	Sessions []types.WorkloadSession `json:"sessions"`
}

// sessionLog appends and queries workload sessions on disk, so usage
// history survives coordinator restarts.
type sessionLog struct {
	store storage.Store[sessionIndex]
}

func newSessionLog(conf *config.Config) *sessionLog {
	return &sessionLog{
		store: storejson.New[sessionIndex](conf.SessionsLock(), conf.SessionsFile()),
	}
}

// open appends a fresh session, closing any stale open one first.
func (l *sessionLog) open(ctx context.Context) error {
	now := time.Now()
	return l.store.Update(ctx, func(idx *sessionIndex) error {
		if n := len(idx.Sessions); n > 0 {
			idx.Sessions[n-1].Close(now)
		}
		idx.Sessions = append(idx.Sessions, types.WorkloadSession{
			ID:        uuid.NewString(),
			StartedAt: now,
		})
		return nil
	})
}

// closeCurrent stamps the open session. No-op when nothing is open.
func (l *sessionLog) closeCurrent(ctx context.Context, now time.Time) error {
	return l.store.Update(ctx, func(idx *sessionIndex) error {
		if n := len(idx.Sessions); n > 0 {
			idx.Sessions[n-1].Close(now)
		}
		return nil
	})
}

// current returns the open session, or nil when all are closed.
func (l *sessionLog) current(ctx context.Context) (*types.WorkloadSession, error) {
	var cur *types.WorkloadSession
	err := l.store.With(ctx, func(idx *sessionIndex) error {
		if n := len(idx.Sessions); n > 0 && !idx.Sessions[n-1].Closed() {
			s := idx.Sessions[n-1]
			cur = &s
		}
		return nil
	})
	return cur, err
}

// lastClosed returns the most recently closed session.
func (l *sessionLog) lastClosed(ctx context.Context) (*types.WorkloadSession, error) {
	var last *types.WorkloadSession
	err := l.store.With(ctx, func(idx *sessionIndex) error {
		for i := len(idx.Sessions) - 1; i >= 0; i-- {
			if idx.Sessions[i].Closed() {
				s := idx.Sessions[i]
				last = &s
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, types.ErrNotFound
	}
	return last, nil
}

// stats aggregates closed sessions.
func (l *sessionLog) stats(ctx context.Context) (types.UsageStats, error) {
	var stats types.UsageStats
	err := l.store.With(ctx, func(idx *sessionIndex) error {
		for _, s := range idx.Sessions {
			if s.StartedAt.Unix() > stats.LastStartedUnix {
				stats.LastStartedUnix = s.StartedAt.Unix()
			}
			if !s.Closed() {
				continue
			}
			stats.Sessions++
			stats.TotalMs += s.DurationMs
			if s.DurationMs > stats.LongestMs {
				stats.LongestMs = s.DurationMs
			}
		}
		if stats.Sessions > 0 {
			stats.AverageMs = stats.TotalMs / int64(stats.Sessions)
		}
		return nil
	})
	return stats, err
}
