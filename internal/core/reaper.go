package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepResult counts what a single reaper pass cleaned up.
type SweepResult struct {
	ClosedSessions int
	UnloadedRooms  int
}

// Reaper periodically reconciles the registry with reality: dead sessions are
// finalized and rooms without online members are saved and unloaded.
type Reaper struct {
	registry *Registry
	interval time.Duration
	log      *zerolog.Logger
}

// NewReaper constructs a reaper ticking every interval.
func NewReaper(registry *Registry, interval time.Duration, logger *zerolog.Logger) *Reaper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "reaper").Logger()
	return &Reaper{registry: registry, interval: interval, log: &l}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Debug().Msg("reaper stopped")
			return
		case <-ticker.C:
			res := r.Sweep(ctx)
			if res.ClosedSessions > 0 || res.UnloadedRooms > 0 {
				r.log.Info().
					Int("closed_sessions", res.ClosedSessions).
					Int("unloaded_rooms", res.UnloadedRooms).
					Msg("sweep finished")
			}
		}
	}
}

// Sweep performs one pass. Sessions go first so their rooms can be unloaded
// in the same pass.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	for _, p := range r.registry.Sessions() {
		if !p.Closed() {
			continue
		}
		if err := r.registry.Detach(ctx, p); err != nil {
			r.log.Warn().Err(err).Str("session_id", p.SessionID()).Msg("failed to persist client of dead session")
		}
		_ = p.Close()
		res.ClosedSessions++
	}

	for _, room := range r.registry.Rooms() {
		unloaded, err := r.registry.UnloadIfIdle(ctx, room)
		if err != nil {
			r.log.Warn().Err(err).Int64("room_id", room.ID()).Msg("failed to unload room")
			continue
		}
		if unloaded {
			res.UnloadedRooms++
			r.log.Debug().Int64("room_id", room.ID()).Msg("room unloaded")
		}
	}

	return res
}
