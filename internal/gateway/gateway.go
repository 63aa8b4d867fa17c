// Package gateway implements the viewer-facing WebSocket broadcast
// gateway: it records each viewer's server/page subscription and pushes
// paginated leaderboard snapshots, both on demand and on a fixed interval.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/craftboard/craftboard/internal/config"
	"github.com/craftboard/craftboard/internal/geoip"
	"github.com/craftboard/craftboard/internal/poller"
	"github.com/craftboard/craftboard/internal/vars"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Gateway holds the dependencies and runtime state of the push channel.
type Gateway struct {
	// tracker supplies leaderboard snapshots; the gateway never talks to
	// the console or the store directly.
	tracker *poller.Tracker

	// geoip resolves viewer countries for connection logs. May be nil.
	geoip *geoip.Provider

	upgrader websocket.Upgrader

	// servers maps the xxhash of each lower-cased configured server name
	// to its canonical name, for fast whitelist checks on viewer events.
	servers map[uint64]string

	pageSize     int
	pushInterval time.Duration

	trustProxy     bool
	hardLimitCount int
	hardLimitWin   time.Duration

	// mu guards viewers and closed.
	mu      sync.RWMutex
	viewers map[*viewer]struct{}
	closed  bool

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New creates a Gateway for the given configured servers.
func New(tracker *poller.Tracker, geo *geoip.Provider, specs []config.ServerSpec, cfg *config.Config) *Gateway {
	servers := make(map[uint64]string, len(specs))
	for _, spec := range specs {
		servers[xxhash.Sum64String(strings.ToLower(spec.Name))] = spec.Name
	}

	return &Gateway{
		tracker: tracker,
		geoip:   geo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		servers:        servers,
		pageSize:       cfg.Gateway.PageSize,
		pushInterval:   cfg.Gateway.PushInterval,
		trustProxy:     cfg.Gateway.TrustProxy,
		hardLimitCount: cfg.RateLimit.HardLimitCount,
		hardLimitWin:   cfg.RateLimit.HardLimitWin,
		viewers:        make(map[*viewer]struct{}),
		shutdown:       make(chan struct{}),
	}
}

// Run configures the HTTP routes and returns the main handler.
func (g *Gateway) Run() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /ws", g.RateLimitMiddleware(http.HandlerFunc(g.handleWS)))
	mux.Handle("GET /api/version", http.HandlerFunc(handleVersion))

	return g.LoggingMiddleware(mux)
}

// Start launches the periodic push loop.
func (g *Gateway) Start() {
	g.wg.Add(1)
	go g.pushLoop()
}

// Stop refuses new viewer connections, stops the push loop once in-flight
// pushes finish, and closes every viewer connection.
func (g *Gateway) Stop() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	close(g.shutdown)
	g.wg.Wait()

	for _, v := range g.snapshotViewers() {
		v.close(websocket.CloseGoingAway, "server shutting down")
		g.remove(v)
	}
}

// pushLoop re-pushes every active subscription on a fixed interval,
// independent of the poller's own schedule. Viewers who disconnected
// between ticks are skipped when their push fails.
func (g *Gateway) pushLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.shutdown:
			return
		case <-ticker.C:
			for _, v := range g.snapshotViewers() {
				g.push(v)
			}
		}
	}
}

// push sends one leaderboard update matching the viewer's subscription.
// The page slice is computed here, at push time, from the current cached
// snapshot: every viewer of one server sees identical data within a tick.
func (g *Gateway) push(v *viewer) {
	sub, ok := v.subscription()
	if !ok {
		return
	}

	// The deadline only matters when a push misses the cache and triggers
	// a fresh poll.
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	snap := g.tracker.Leaderboard(ctx, sub.serverName)
	slice, pagination := snap.Page(sub.page, sub.limit)

	update := leaderboardUpdate{
		Type:         eventLeaderboard,
		ServerName:   sub.serverName,
		Leaderboard:  slice,
		Pagination:   pagination,
		OnlineCount:  snap.OnlineCount,
		TotalPlayers: pagination.TotalPlayers,
	}

	if err := v.writeJSON(update); err != nil {
		log.Debug().Err(err).Str("ip", v.ip).Msg("Viewer push failed, dropping")
		g.remove(v)
		v.close(websocket.CloseNormalClosure, "")
	}
}

func (g *Gateway) snapshotViewers() []*viewer {
	g.mu.RLock()
	defer g.mu.RUnlock()

	viewers := make([]*viewer, 0, len(g.viewers))
	for v := range g.viewers {
		viewers = append(viewers, v)
	}

	return viewers
}

func (g *Gateway) add(v *viewer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.viewers[v] = struct{}{}

	return true
}

func (g *Gateway) remove(v *viewer) {
	g.mu.Lock()
	delete(g.viewers, v)
	g.mu.Unlock()
}

// canonicalServer validates a normalized server name against the
// configured whitelist and returns its canonical form.
func (g *Gateway) canonicalServer(name string) (string, bool) {
	canonical, ok := g.servers[xxhash.Sum64String(name)]
	return canonical, ok
}

// handleVersion returns the build metadata.
func handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(vars.Info())
}
