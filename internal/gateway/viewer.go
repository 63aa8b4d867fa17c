package gateway

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/craftboard/craftboard/internal/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Inbound and outbound event names on the push channel.
const (
	eventSelectServer = "select_server"
	eventLeaderboard  = "leaderboard_updates"
	eventError        = "error"
)

const writeWait = 10 * time.Second

// clientMessage is an inbound viewer event.
type clientMessage struct {
	Type       string `json:"type"`
	ServerName string `json:"serverName"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
}

// leaderboardUpdate is the outbound push payload.
type leaderboardUpdate struct {
	Type         string            `json:"type"`
	ServerName   string            `json:"serverName"`
	Leaderboard  []models.Player   `json:"leaderboard"`
	Pagination   models.Pagination `json:"pagination"`
	OnlineCount  int               `json:"onlineCount"`
	TotalPlayers int               `json:"totalPlayers"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// viewer is one connected push-channel client and its current
// subscription. A viewer has at most one subscription; repeated
// select_server events overwrite it in place.
type viewer struct {
	conn    *websocket.Conn
	ip      string
	country string

	// mu guards sub and serializes writes on the connection.
	mu  sync.Mutex
	sub *subscription
}

// subscription is the viewer's current choice of server, page and page size.
type subscription struct {
	serverName string
	page       int
	limit      int
}

// handleWS upgrades the connection and runs the viewer's event loop until
// disconnect.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	v := &viewer{conn: conn, ip: GetRealIP(r, g.trustProxy)}
	if g.geoip != nil {
		v.country = g.geoip.CountryCode(v.ip)
	}

	if !g.add(v) {
		v.close(websocket.CloseGoingAway, "server shutting down")
		return
	}

	log.Info().
		Str("ip", v.ip).
		Str("country", v.country).
		Msg("Viewer connected")

	g.readLoop(v)
}

// readLoop processes inbound viewer events. Any read error means the
// viewer is gone: the subscription is removed and other viewers are
// unaffected.
func (g *Gateway) readLoop(v *viewer) {
	defer func() {
		g.remove(v)
		_ = v.conn.Close()
		log.Info().Str("ip", v.ip).Msg("Viewer disconnected")
	}()

	for {
		var msg clientMessage
		if err := v.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case eventSelectServer:
			g.selectServer(v, msg)
		default:
			log.Debug().Str("ip", v.ip).Str("type", msg.Type).Msg("Ignoring unknown viewer event")
		}
	}
}

// selectServer normalizes and validates the requested server name,
// records or overwrites the viewer's subscription, and immediately pushes
// one update.
func (g *Gateway) selectServer(v *viewer, msg clientMessage) {
	name := strings.ToLower(strings.TrimSpace(msg.ServerName))

	canonical, ok := g.canonicalServer(name)
	if !ok {
		log.Debug().Str("ip", v.ip).Str("server", msg.ServerName).Msg("Viewer selected unknown server")
		_ = v.writeJSON(errorMessage{Type: eventError, Message: "unknown server: " + msg.ServerName})
		return
	}

	page := msg.Page
	if page < 1 {
		page = 1
	}
	limit := msg.Limit
	if limit < 1 {
		limit = g.pageSize
	}

	v.setSubscription(&subscription{serverName: canonical, page: page, limit: limit})
	g.push(v)
}

func (v *viewer) setSubscription(sub *subscription) {
	v.mu.Lock()
	v.sub = sub
	v.mu.Unlock()
}

func (v *viewer) subscription() (subscription, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.sub == nil {
		return subscription{}, false
	}

	return *v.sub, true
}

func (v *viewer) writeJSON(payload any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return v.conn.WriteJSON(payload)
}

func (v *viewer) close(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = v.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	_ = v.conn.Close()
}
