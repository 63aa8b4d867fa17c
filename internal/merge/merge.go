// Package merge reconciles freshly observed player state with persisted
// history: session boundaries, monotonic play-time, and rank tiers.
package merge

import (
	"time"

	"github.com/craftboard/craftboard/internal/models"
	"github.com/rs/zerolog/log"
)

// Store is the read side of the persistence collaborator.
type Store interface {
	FindPlayer(username, serverName string) (*models.Player, error)
}

// Merger applies one parsed observation to a player's persisted record.
// It does not write; callers batch the returned records into one bulk
// upsert per poll cycle.
type Merger struct {
	store Store
	now   func() time.Time
}

// New builds a Merger. A nil clock uses time.Now; tests inject a fixed one.
func New(store Store, now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}

	return &Merger{store: store, now: now}
}

// Reconcile merges an observation (online flag and raw play-time ticks)
// into the stored record for (username, serverName) and returns the
// result. Rules:
//   - online→offline sets LastSeen and clears JoinTime; offline→online
//     sets JoinTime and clears LastSeen; no transition leaves both alone.
//   - observed ticks are adopted only when they do not regress the stored
//     total, so a transient bad console read can never shrink play-time.
//   - the rank tier is recomputed from the merged hours.
//   - the supporter flag is owned by the donation flow and never modified.
//
// A store read failure is logged and the observation is applied to a blank
// record so the rest of the batch continues.
func (m *Merger) Reconcile(username string, isOnline bool, observedTicks int64, serverName string) models.Player {
	now := m.now().UTC()

	prev, err := m.store.FindPlayer(username, serverName)
	if err != nil {
		log.Error().Err(err).
			Str("server", serverName).
			Str("username", username).
			Msg("Failed to load player record, reconciling against blank")
		prev = nil
	}

	if prev == nil {
		p := models.Player{
			Username:   username,
			ServerName: serverName,
			IsOnline:   isOnline,
			PlayTime:   models.TicksToPlayTime(observedTicks),
			Avatar:     models.AvatarURL(username),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if isOnline {
			p.JoinTime = &now
		} else {
			p.LastSeen = &now
		}
		p.Rank = models.RankForHours(p.PlayTime.Hours)

		return p
	}

	p := *prev

	if p.IsOnline && !isOnline {
		t := now
		p.LastSeen = &t
		p.JoinTime = nil
	}
	if isOnline && !p.IsOnline {
		t := now
		p.JoinTime = &t
		p.LastSeen = nil
	}
	p.IsOnline = isOnline

	if observedTicks >= p.PlayTime.Ticks {
		p.PlayTime = models.TicksToPlayTime(observedTicks)
	}
	p.Rank = models.RankForHours(p.PlayTime.Hours)

	if p.Avatar == "" {
		p.Avatar = models.AvatarURL(p.Username)
	}
	p.UpdatedAt = now

	return p
}
