// Package models defines the leaderboard data structures shared by the
// poller, storage, and gateway layers.
package models

import (
	"fmt"
	"sort"
	"time"
)

// TicksPerSecond is the fixed rate of the game server's internal clock.
const TicksPerSecond = 20

// PlayTime represents accumulated play-time in source ticks and derived units.
type PlayTime struct {
	Ticks   int64 `json:"ticks"`
	Seconds int64 `json:"seconds"`
	Minutes int64 `json:"minutes"`
	Hours   int64 `json:"hours"`
	Days    int64 `json:"days"`
}

// TicksToPlayTime converts raw scoreboard ticks into a PlayTime value.
// All derived units use integer division; this is the single conversion
// point so every caller rounds the same way.
func TicksToPlayTime(ticks int64) PlayTime {
	if ticks < 0 {
		ticks = 0
	}
	seconds := ticks / TicksPerSecond

	return PlayTime{
		Ticks:   ticks,
		Seconds: seconds,
		Minutes: seconds / 60,
		Hours:   seconds / 3600,
		Days:    seconds / 86400,
	}
}

// Rank is a named tier derived solely from accumulated play-time hours.
type Rank struct {
	Name string `json:"name"`
}

// rankThresholds is evaluated highest-first.
var rankThresholds = []struct {
	hours int64
	name  string
}{
	{1500, "Immortal"},
	{700, "Legend"},
	{350, "Veteran"},
	{150, "Trusted"},
	{50, "Dedicated"},
	{24, "Regular"},
	{10, "Newcomer"},
}

// RankForHours returns the rank tier for the given play-time hours.
func RankForHours(hours int64) Rank {
	for _, t := range rankThresholds {
		if hours >= t.hours {
			return Rank{Name: t.name}
		}
	}

	return Rank{Name: "Visitor"}
}

// AvatarURL derives the avatar reference for a username.
func AvatarURL(username string) string {
	return fmt.Sprintf("https://mc-heads.net/avatar/%s/64", username)
}

// Player represents one player on one server. The key is (username,
// server_name) with case-insensitive username matching and case-preserving
// storage. Exactly one of JoinTime/LastSeen is set once the player has been
// observed: JoinTime while in a session, LastSeen between sessions.
type Player struct {
	Username   string     `json:"username"`
	ServerName string     `json:"serverName"`
	IsOnline   bool       `json:"is_online"`
	PlayTime   PlayTime   `json:"playTime"`
	Rank       Rank       `json:"rank"`
	Avatar     string     `json:"avatar"`
	Supporter  bool       `json:"isSupported"`
	JoinTime   *time.Time `json:"joinTime"`
	LastSeen   *time.Time `json:"lastSeen"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Pagination describes one leaderboard page slice.
type Pagination struct {
	Page         int `json:"page"`
	Limit        int `json:"limit"`
	TotalPlayers int `json:"totalPlayers"`
	TotalPages   int `json:"totalPages"`
}

// Snapshot is the full set of reconciled player records for one server
// as of one poll cycle.
type Snapshot struct {
	ServerName  string    `json:"serverName"`
	Players     []Player  `json:"players"`
	OnlineCount int       `json:"onlineCount"`
	TakenAt     time.Time `json:"takenAt"`
}

// Sort orders players by descending play-time seconds, breaking ties with
// online players first, then by username for a stable order.
func (s *Snapshot) Sort() {
	sort.SliceStable(s.Players, func(i, j int) bool {
		a, b := s.Players[i], s.Players[j]
		if a.PlayTime.Seconds != b.PlayTime.Seconds {
			return a.PlayTime.Seconds > b.PlayTime.Seconds
		}
		if a.IsOnline != b.IsOnline {
			return a.IsOnline
		}
		return a.Username < b.Username
	})
}

// Page returns the 1-based page slice of the snapshot plus pagination
// metadata. Out-of-range pages yield an empty slice with valid metadata.
func (s *Snapshot) Page(page, limit int) ([]Player, Pagination) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	total := len(s.Players)
	totalPages := (total + limit - 1) / limit

	pg := Pagination{
		Page:         page,
		Limit:        limit,
		TotalPlayers: total,
		TotalPages:   totalPages,
	}

	start := (page - 1) * limit
	if start >= total {
		return []Player{}, pg
	}
	end := start + limit
	if end > total {
		end = total
	}

	return s.Players[start:end], pg
}
