package rcon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/craftboard/craftboard/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrUnknownServer is returned for server names that are not configured.
	ErrUnknownServer = errors.New("rcon: server not configured")

	// ErrConnectTimeout is returned when the transport cannot connect and
	// authenticate within the configured timeout.
	ErrConnectTimeout = errors.New("rcon: connect failed")

	// ErrNotConnected is returned when the session tore down mid-call.
	ErrNotConnected = errors.New("rcon: session not connected")
)

// DialFunc creates an authenticated console session. It exists so tests
// can substitute fake transports.
type DialFunc func(addr, password string, timeout time.Duration) (Conn, error)

// Manager owns at most one live console session per configured server
// name. Sessions are created lazily on first use, torn down on transport
// errors, and transparently re-established on the next call. All command
// sends against one session are strictly serialized: the console protocol
// does not multiplex.
type Manager struct {
	dial       DialFunc
	specs      map[string]config.ServerSpec
	slots      map[string]*slot
	retryDelay time.Duration

	mu     sync.Mutex
	closed bool
}

type slot struct {
	spec config.ServerSpec

	// limiter bounds command throughput so pollers can never overwhelm
	// the game server console.
	limiter *rate.Limiter

	// sendMu serializes command/response pairs on the live session.
	sendMu sync.Mutex

	// stateMu guards conn, connecting and retryArmed.
	stateMu    sync.Mutex
	conn       Conn
	connecting chan struct{}
	retryArmed bool
}

// NewManager builds a session registry for the given servers. A nil dial
// uses the real TCP transport. cmdRate caps console commands per second
// per server.
func NewManager(specs []config.ServerSpec, dial DialFunc, cmdRate float64, retryDelay time.Duration) *Manager {
	if dial == nil {
		dial = Dial
	}
	if cmdRate <= 0 {
		cmdRate = 20
	}

	m := &Manager{
		dial:       dial,
		specs:      make(map[string]config.ServerSpec, len(specs)),
		slots:      make(map[string]*slot, len(specs)),
		retryDelay: retryDelay,
	}

	burst := int(cmdRate)
	if burst < 1 {
		burst = 1
	}
	for _, spec := range specs {
		m.specs[spec.Name] = spec
		m.slots[spec.Name] = &slot{
			spec:    spec,
			limiter: rate.NewLimiter(rate.Limit(cmdRate), burst),
		}
	}

	return m
}

// Send dispatches one command to the named server and returns the reply
// text. It reuses the live session when one exists, waits on an in-flight
// connection attempt instead of racing it, and invalidates the session on
// any transport error so the next caller reconnects.
func (m *Manager) Send(ctx context.Context, serverName, cmd string) (string, error) {
	sl, ok := m.slots[serverName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownServer, serverName)
	}

	if err := sl.limiter.Wait(ctx); err != nil {
		return "", err
	}

	conn, err := m.ensure(ctx, sl)
	if err != nil {
		return "", err
	}

	sl.sendMu.Lock()
	defer sl.sendMu.Unlock()

	// The session may have been invalidated between ensure and the lock.
	sl.stateMu.Lock()
	live := sl.conn == conn
	sl.stateMu.Unlock()
	if !live {
		return "", ErrNotConnected
	}

	reply, err := conn.Exec(cmd)
	if err != nil {
		m.invalidate(sl, conn, err)
		return "", fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return reply, nil
}

// ensure returns a live session for the slot, establishing one if needed.
// Callers that find a connection attempt already in flight block on its
// completion signal and then re-check, so one game-server session slot is
// never authenticated twice concurrently.
func (m *Manager) ensure(ctx context.Context, sl *slot) (Conn, error) {
	for {
		sl.stateMu.Lock()
		if sl.conn != nil {
			conn := sl.conn
			sl.stateMu.Unlock()
			return conn, nil
		}

		if sl.connecting != nil {
			done := sl.connecting
			sl.stateMu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		done := make(chan struct{})
		sl.connecting = done
		sl.stateMu.Unlock()

		conn, err := m.dial(sl.spec.Addr(), sl.spec.Password, sl.spec.Timeout)

		sl.stateMu.Lock()
		sl.connecting = nil
		close(done)
		if err != nil {
			sl.stateMu.Unlock()
			m.scheduleRetry(sl)

			log.Warn().Err(err).Str("server", sl.spec.Name).Msg("Console connect failed")
			if errors.Is(err, ErrAuthFailed) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		sl.conn = conn
		sl.stateMu.Unlock()

		log.Info().Str("server", sl.spec.Name).Str("addr", sl.spec.Addr()).Msg("Console connected")
		return conn, nil
	}
}

// invalidate drops the slot's session if it still holds the failed conn
// and arms a self-healing reconnect so idle periods recover without
// waiting for the next caller.
func (m *Manager) invalidate(sl *slot, conn Conn, cause error) {
	sl.stateMu.Lock()
	if sl.conn == conn {
		sl.conn = nil
	}
	sl.stateMu.Unlock()
	_ = conn.Close()

	log.Warn().Err(cause).Str("server", sl.spec.Name).Msg("Console session invalidated")
	m.scheduleRetry(sl)
}

func (m *Manager) scheduleRetry(sl *slot) {
	if m.retryDelay <= 0 {
		return
	}

	sl.stateMu.Lock()
	if sl.retryArmed {
		sl.stateMu.Unlock()
		return
	}
	sl.retryArmed = true
	sl.stateMu.Unlock()

	time.AfterFunc(m.retryDelay, func() {
		sl.stateMu.Lock()
		sl.retryArmed = false
		sl.stateMu.Unlock()

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), sl.spec.Timeout)
		defer cancel()
		if _, err := m.ensure(ctx, sl); err != nil {
			log.Debug().Err(err).Str("server", sl.spec.Name).Msg("Console retry failed")
		}
	})
}

// Close tears down every live session. The manager must not be used after.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, sl := range m.slots {
		sl.stateMu.Lock()
		if sl.conn != nil {
			_ = sl.conn.Close()
			sl.conn = nil
		}
		sl.stateMu.Unlock()
	}
}
