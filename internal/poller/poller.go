// Package poller drives full-server poll cycles against the game consoles,
// caches the resulting leaderboard snapshots, and keeps them warm on a
// fixed schedule.
package poller

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/craftboard/craftboard/internal/merge"
	"github.com/craftboard/craftboard/internal/models"
	"github.com/craftboard/craftboard/internal/parse"
	"github.com/rs/zerolog/log"
)

// Console commands used by one poll cycle.
const (
	cmdScoreboardList = "scoreboard players list"
	cmdOnlineList     = "list"
	cmdPlayTimePrefix = "scoreboard players get "
	cmdPlayTimeSuffix = " playtime"
)

// Console dispatches one command to a named server's console session.
// Implemented by rcon.Manager; tests use scripted fakes.
type Console interface {
	Send(ctx context.Context, serverName, cmd string) (string, error)
}

// Store is the persistence surface the poller needs: the bulk write for a
// finished cycle and the read used as a cold-start fallback.
type Store interface {
	ListPlayers(serverName string) ([]models.Player, error)
	BulkUpsertPlayers(players []models.Player) error
}

// Tracker owns one cache slot per configured server and schedules the
// background cycles that keep those slots warm. Slots never share locks,
// so a stuck server cannot delay the others.
type Tracker struct {
	console     Console
	merger      *merge.Merger
	store       Store
	cacheWindow time.Duration
	interval    time.Duration
	now         func() time.Time

	slots map[string]*pollSlot

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type pollSlot struct {
	// pollMu acts as the mutual-exclusion guard of the per-server state
	// machine: a server's poll cycles never overlap themselves.
	pollMu sync.Mutex

	mu       sync.RWMutex
	snapshot *models.Snapshot
}

// New builds a Tracker for the given server names. A nil clock uses
// time.Now.
func New(serverNames []string, console Console, merger *merge.Merger, store Store, cacheWindow, interval time.Duration, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}

	slots := make(map[string]*pollSlot, len(serverNames))
	for _, name := range serverNames {
		slots[name] = &pollSlot{}
	}

	return &Tracker{
		console:     console,
		merger:      merger,
		store:       store,
		cacheWindow: cacheWindow,
		interval:    interval,
		now:         now,
		slots:       slots,
		stop:        make(chan struct{}),
	}
}

// Leaderboard returns the current snapshot for a server. A snapshot
// younger than the cache window is served without touching the console.
// After expiry a fresh poll runs; if it fails the stale snapshot is served
// as a degraded fallback, then the persisted history, and only a server
// with no observed players at all yields an empty snapshot. Viewers never
// see an error.
func (t *Tracker) Leaderboard(ctx context.Context, serverName string) *models.Snapshot {
	sl, ok := t.slots[serverName]
	if !ok {
		return &models.Snapshot{ServerName: serverName, Players: []models.Player{}}
	}

	if snap := sl.fresh(t.now(), t.cacheWindow); snap != nil {
		return snap
	}

	snap, err := t.poll(ctx, serverName, sl, false)
	if err == nil {
		return snap
	}

	log.Warn().Err(err).Str("server", serverName).Msg("Poll failed, serving degraded data")

	if stale := sl.any(); stale != nil {
		return stale
	}

	if snap := t.fromStore(serverName); snap != nil {
		sl.set(snap)
		return snap
	}

	return &models.Snapshot{ServerName: serverName, Players: []models.Player{}}
}

// Poll forces one poll cycle for a server, bypassing the cache window.
// Used by the one-shot maintenance mode.
func (t *Tracker) Poll(ctx context.Context, serverName string) error {
	sl, ok := t.slots[serverName]
	if !ok {
		return nil
	}

	_, err := t.poll(ctx, serverName, sl, true)
	return err
}

// poll runs one full cycle: registered usernames, online listing, one
// play-time query per player through the merger, then a single bulk upsert
// and the new cached snapshot.
// The force flag skips the freshness re-check; the background schedule
// polls unconditionally while on-demand callers deduplicate.
func (t *Tracker) poll(ctx context.Context, serverName string, sl *pollSlot, force bool) (*models.Snapshot, error) {
	sl.pollMu.Lock()
	defer sl.pollMu.Unlock()

	// Another caller may have finished a cycle while we waited.
	if !force {
		if snap := sl.fresh(t.now(), t.cacheWindow); snap != nil {
			return snap, nil
		}
	}

	listRaw, err := t.console.Send(ctx, serverName, cmdScoreboardList)
	if err != nil {
		return nil, err
	}
	usernames := parse.Usernames(listRaw)

	onlineRaw, err := t.console.Send(ctx, serverName, cmdOnlineList)
	if err != nil {
		return nil, err
	}

	online := make(map[string]struct{})
	for _, name := range parse.OnlinePlayers(onlineRaw) {
		online[strings.ToLower(name)] = struct{}{}
	}

	snap := &models.Snapshot{
		ServerName: serverName,
		Players:    make([]models.Player, 0, len(usernames)),
		TakenAt:    t.now(),
	}

	for _, username := range usernames {
		ticksRaw, err := t.console.Send(ctx, serverName, cmdPlayTimePrefix+username+cmdPlayTimeSuffix)
		if err != nil {
			return nil, err
		}

		_, isOnline := online[strings.ToLower(username)]
		player := t.merger.Reconcile(username, isOnline, parse.PlayTimeTicks(ticksRaw), serverName)
		if player.IsOnline {
			snap.OnlineCount++
		}
		snap.Players = append(snap.Players, player)
	}

	snap.Sort()

	if len(snap.Players) > 0 {
		// A persistence failure degrades durability, not the snapshot.
		if err := t.store.BulkUpsertPlayers(snap.Players); err != nil {
			log.Error().Err(err).Str("server", serverName).Msg("Failed to persist poll cycle")
		}
	}

	sl.set(snap)

	log.Debug().
		Str("server", serverName).
		Int("players", len(snap.Players)).
		Int("online", snap.OnlineCount).
		Msg("Poll cycle finished")

	return snap, nil
}

// fromStore rebuilds a snapshot from persisted history when no cache
// exists and the console is unreachable. TakenAt stays zero so the next
// request still attempts a real poll.
func (t *Tracker) fromStore(serverName string) *models.Snapshot {
	players, err := t.store.ListPlayers(serverName)
	if err != nil {
		log.Error().Err(err).Str("server", serverName).Msg("Failed to load players from store")
		return nil
	}
	if len(players) == 0 {
		return nil
	}

	snap := &models.Snapshot{ServerName: serverName, Players: players}
	for _, p := range players {
		if p.IsOnline {
			snap.OnlineCount++
		}
	}
	snap.Sort()

	return snap
}

// Start launches one background loop per configured server. Each loop has
// its own ticker and failure domain: an unreachable server never delays or
// stops the others.
func (t *Tracker) Start() {
	for name := range t.slots {
		t.wg.Add(1)
		go t.loop(name)
	}
}

// Stop terminates the background loops and waits for in-flight cycles.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
}

func (t *Tracker) loop(serverName string) {
	defer t.wg.Done()

	sl := t.slots[serverName]
	t.runCycle(serverName, sl)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.runCycle(serverName, sl)
		}
	}
}

func (t *Tracker) runCycle(serverName string, sl *pollSlot) {
	ctx, cancel := context.WithTimeout(context.Background(), t.interval)
	defer cancel()

	if _, err := t.poll(ctx, serverName, sl, true); err != nil {
		log.Warn().Err(err).Str("server", serverName).Msg("Background poll failed")
	}
}

func (sl *pollSlot) fresh(now time.Time, window time.Duration) *models.Snapshot {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if sl.snapshot == nil || now.Sub(sl.snapshot.TakenAt) >= window {
		return nil
	}

	return sl.snapshot
}

func (sl *pollSlot) any() *models.Snapshot {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	return sl.snapshot
}

func (sl *pollSlot) set(snap *models.Snapshot) {
	sl.mu.Lock()
	sl.snapshot = snap
	sl.mu.Unlock()
}
