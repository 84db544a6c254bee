package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor evicts rooms that have sat empty longer than TTL. The
// reference protocol never deletes rooms; this sweep is an opt-in guard
// against unbounded growth in long-running processes, disabled when TTL
// is zero.
type Janitor struct {
	Rooms *Rooms
	TTL   time.Duration
}

// Run sweeps until ctx is done. Call in its own goroutine.
func (j *Janitor) Run(ctx context.Context) {
	if j.TTL <= 0 {
		return
	}
	ticker := time.NewTicker(j.TTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(time.Now().Add(-j.TTL))
		}
	}
}

func (j *Janitor) sweep(cutoff time.Time) {
	for _, id := range j.Rooms.idleEmptySince(cutoff) {
		j.Rooms.Drop(id)
		log.Info().Str("module", "app.janitor").Str("room", string(id)).Msg("evicted empty room")
	}
}
