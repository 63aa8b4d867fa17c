package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/craftboard/craftboard/internal/config"
	"github.com/craftboard/craftboard/internal/merge"
	"github.com/craftboard/craftboard/internal/models"
	"github.com/craftboard/craftboard/internal/poller"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConsole scripts the three poll commands for a roster of 25 players,
// P01 through P25, with play time growing with the player number.
type fakeConsole struct{}

func (fakeConsole) Send(_ context.Context, _, cmd string) (string, error) {
	names := make([]string, 0, 25)
	for i := 1; i <= 25; i++ {
		names = append(names, fmt.Sprintf("P%02d", i))
	}

	switch cmd {
	case "scoreboard players list":
		return "There are 25 tracked entities: " + strings.Join(names, ", "), nil
	case "list":
		return "There are 2 of a max of 50 players online: [1] p25, [2] p24", nil
	}

	name := strings.TrimSuffix(strings.TrimPrefix(cmd, "scoreboard players get "), " playtime")
	var n int
	if _, err := fmt.Sscanf(name, "P%d", &n); err != nil {
		return name + " has no scores recorded", nil
	}
	return fmt.Sprintf("%s has %d [playtime]", name, n*72000), nil
}

type fakeStore struct {
	mu      sync.Mutex
	players map[string]models.Player
}

func (f *fakeStore) FindPlayer(username, serverName string) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.players[strings.ToLower(username)+"/"+serverName]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (f *fakeStore) ListPlayers(string) ([]models.Player, error) { return nil, nil }

func (f *fakeStore) BulkUpsertPlayers(players []models.Player) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range players {
		f.players[strings.ToLower(p.Username)+"/"+p.ServerName] = p
	}
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()

	store := &fakeStore{players: make(map[string]models.Player)}
	merger := merge.New(store, nil)
	tracker := poller.New([]string{"Survival"}, fakeConsole{}, merger, store, 30*time.Second, 10*time.Second, nil)

	specs := []config.ServerSpec{{Name: "Survival", Host: "127.0.0.1", Port: 25575}}
	cfg := &config.Config{
		Gateway:   config.Gateway{PageSize: 10, PushInterval: time.Minute},
		RateLimit: config.RateLimit{HardLimitCount: 8, HardLimitWin: time.Minute},
	}

	gw := New(tracker, nil, specs, cfg)
	srv := httptest.NewServer(gw.Run())
	t.Cleanup(srv.Close)

	return gw, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) leaderboardUpdate {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var update leaderboardUpdate
	require.NoError(t, conn.ReadJSON(&update))

	return update
}

func TestSelectServerPushesFirstPage(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dialWS(t, srv)

	// Name matching is case-insensitive and ignores surrounding whitespace
	require.NoError(t, conn.WriteJSON(clientMessage{
		Type: eventSelectServer, ServerName: " SURVIVAL ", Page: 1, Limit: 10,
	}))

	update := readUpdate(t, conn)
	assert.Equal(t, eventLeaderboard, update.Type)
	assert.Equal(t, "Survival", update.ServerName)
	assert.Equal(t, 25, update.TotalPlayers)
	assert.Equal(t, 3, update.Pagination.TotalPages)
	assert.Equal(t, 2, update.OnlineCount)

	require.Len(t, update.Leaderboard, 10)
	assert.Equal(t, "P25", update.Leaderboard[0].Username)
	assert.Equal(t, "P16", update.Leaderboard[9].Username)
	assert.True(t, update.Leaderboard[0].IsOnline)
}

func TestSelectServerLastPage(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{
		Type: eventSelectServer, ServerName: "survival", Page: 3, Limit: 10,
	}))

	update := readUpdate(t, conn)
	require.Len(t, update.Leaderboard, 5)
	assert.Equal(t, "P05", update.Leaderboard[0].Username)
	assert.Equal(t, "P01", update.Leaderboard[4].Username)
	assert.Equal(t, 3, update.Pagination.Page)
}

func TestSelectServerDefaultsPagination(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{
		Type: eventSelectServer, ServerName: "survival",
	}))

	update := readUpdate(t, conn)
	assert.Equal(t, 1, update.Pagination.Page)
	assert.Equal(t, 10, update.Pagination.Limit)
	assert.Len(t, update.Leaderboard, 10)
}

func TestSelectServerUnknownName(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{
		Type: eventSelectServer, ServerName: "creative",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var errMsg errorMessage
	require.NoError(t, conn.ReadJSON(&errMsg))

	assert.Equal(t, eventError, errMsg.Type)
	assert.Contains(t, errMsg.Message, "creative")
}

func TestResubscribeOverwrites(t *testing.T) {
	_, srv := newTestGateway(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{
		Type: eventSelectServer, ServerName: "survival", Page: 1, Limit: 10,
	}))
	readUpdate(t, conn)

	require.NoError(t, conn.WriteJSON(clientMessage{
		Type: eventSelectServer, ServerName: "survival", Page: 2, Limit: 5,
	}))

	update := readUpdate(t, conn)
	assert.Equal(t, 2, update.Pagination.Page)
	require.Len(t, update.Leaderboard, 5)
	assert.Equal(t, "P20", update.Leaderboard[0].Username)
}

func TestRateLimitMiddlewareHardLimit(t *testing.T) {
	store := &fakeStore{players: make(map[string]models.Player)}
	merger := merge.New(store, nil)
	tracker := poller.New([]string{"Survival"}, fakeConsole{}, merger, store, 30*time.Second, 10*time.Second, nil)

	specs := []config.ServerSpec{{Name: "Survival", Host: "127.0.0.1", Port: 25575}}
	cfg := &config.Config{
		Gateway:   config.Gateway{PageSize: 10, PushInterval: time.Minute},
		RateLimit: config.RateLimit{HardLimitCount: 2, HardLimitWin: time.Minute},
	}

	gw := New(tracker, nil, specs, cfg)
	srv := httptest.NewServer(gw.Run())
	t.Cleanup(srv.Close)

	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/ws")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Shutdown also stops the middleware's cleanup loop
	gw.Start()
	gw.Stop()
}

func TestStopRejectsNewViewers(t *testing.T) {
	gw, srv := newTestGateway(t)
	gw.Start()
	gw.Stop()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}
