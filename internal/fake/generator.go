// Package fake provides utilities for generating random leaderboard data
// for testing and development purposes.
package fake

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/craftboard/craftboard/internal/models"
	"github.com/craftboard/craftboard/internal/storage"
	"github.com/rs/zerolog/log"
)

// GenerateData populates the storage with randomized player records spread
// across the given servers, covering every rank tier and both presence
// states.
func GenerateData(store *storage.Repository, serverNames []string, count int) {
	if len(serverNames) == 0 {
		serverNames = []string{"survival"}
	}

	adjectives := []string{"Swift", "Iron", "Lucky", "Silent", "Crimson", "Frost", "Ender", "Mossy", "Golden", "Feral"}
	nouns := []string{"Creeper", "Miner", "Wolf", "Witch", "Golem", "Piglin", "Raven", "Blaze", "Turtle", "Wither"}

	players := make([]models.Player, 0, count)
	now := time.Now().UTC()

	for i := 0; i < count; i++ {
		username := fmt.Sprintf("%s%s%d", adjectives[rand.Intn(len(adjectives))], nouns[rand.Intn(len(nouns))], rand.Intn(1000))
		serverName := serverNames[rand.Intn(len(serverNames))]

		// Up to ~2000 hours, skewed towards small totals
		hours := int64(rand.ExpFloat64() * 120)
		if hours > 2000 {
			hours = 2000
		}
		ticks := hours*3600*models.TicksPerSecond + int64(rand.Intn(3600*models.TicksPerSecond))

		p := models.Player{
			Username:   username,
			ServerName: serverName,
			IsOnline:   rand.Float32() < 0.2,
			PlayTime:   models.TicksToPlayTime(ticks),
			Avatar:     models.AvatarURL(username),
			CreatedAt:  now.Add(-time.Duration(rand.Intn(90*24)) * time.Hour),
			UpdatedAt:  now,
		}
		p.Rank = models.RankForHours(p.PlayTime.Hours)

		if p.IsOnline {
			joined := now.Add(-time.Duration(rand.Intn(180)) * time.Minute)
			p.JoinTime = &joined
		} else {
			seen := now.Add(-time.Duration(rand.Intn(14*24*60)) * time.Minute)
			p.LastSeen = &seen
		}

		players = append(players, p)
	}

	if err := store.BulkUpsertPlayers(players); err != nil {
		log.Error().Err(err).Msg("Failed to insert fake players")
		return
	}

	log.Info().
		Int("count", len(players)).
		Int("servers", len(serverNames)).
		Msg("Fake data generated")
}
