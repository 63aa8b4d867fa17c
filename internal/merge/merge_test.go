package merge

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/craftboard/craftboard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	players map[string]models.Player
	findErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{players: make(map[string]models.Player)}
}

func (f *fakeStore) key(username, serverName string) string {
	return strings.ToLower(username) + "/" + serverName
}

func (f *fakeStore) FindPlayer(username, serverName string) (*models.Player, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}

	p, ok := f.players[f.key(username, serverName)]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (f *fakeStore) put(p models.Player) {
	f.players[f.key(p.Username, p.ServerName)] = p
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestReconcileFirstObservation(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	p := m.Reconcile("Alice", true, 7200, "survival")

	assert.Equal(t, "Alice", p.Username)
	assert.Equal(t, "survival", p.ServerName)
	assert.True(t, p.IsOnline)
	require.NotNil(t, p.JoinTime)
	assert.Nil(t, p.LastSeen)
	assert.Equal(t, int64(360), p.PlayTime.Seconds)
	assert.Equal(t, "Visitor", p.Rank.Name)
	assert.Equal(t, "https://mc-heads.net/avatar/Alice/64", p.Avatar)
}

func TestReconcileFirstObservationOffline(t *testing.T) {
	m := New(newFakeStore(), fixedClock(t0))

	p := m.Reconcile("Bob", false, 0, "survival")

	assert.False(t, p.IsOnline)
	assert.Nil(t, p.JoinTime)
	require.NotNil(t, p.LastSeen)
}

// Alice comes online at 7200 ticks, then is seen offline at 72000 ticks.
func TestReconcileOnlineToOffline(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	first := m.Reconcile("Alice", true, 7200, "survival")
	store.put(first)

	later := t0.Add(10 * time.Minute)
	m = New(store, fixedClock(later))
	p := m.Reconcile("Alice", false, 72000, "survival")

	assert.False(t, p.IsOnline)
	require.NotNil(t, p.LastSeen)
	assert.Equal(t, later, *p.LastSeen)
	assert.Nil(t, p.JoinTime)
	assert.Equal(t, int64(1), p.PlayTime.Hours)
	assert.Equal(t, "Visitor", p.Rank.Name)
}

func TestReconcileOfflineToOnline(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	store.put(m.Reconcile("Alice", false, 100, "survival"))
	p := m.Reconcile("Alice", true, 100, "survival")

	assert.True(t, p.IsOnline)
	require.NotNil(t, p.JoinTime)
	assert.Nil(t, p.LastSeen)
}

func TestReconcileNoTransitionKeepsTimestamps(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	first := m.Reconcile("Alice", true, 100, "survival")
	store.put(first)

	later := New(store, fixedClock(t0.Add(time.Hour)))
	p := later.Reconcile("Alice", true, 200, "survival")

	require.NotNil(t, p.JoinTime)
	assert.Equal(t, *first.JoinTime, *p.JoinTime)
}

func TestReconcileMonotonicPlayTime(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	store.put(m.Reconcile("Alice", true, 100000, "survival"))

	p := m.Reconcile("Alice", true, 500, "survival")
	assert.Equal(t, int64(100000), p.PlayTime.Ticks, "a regressed read must not shrink play-time")

	p = m.Reconcile("Alice", true, 100001, "survival")
	assert.Equal(t, int64(100001), p.PlayTime.Ticks)
}

func TestReconcileIdempotent(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	first := m.Reconcile("Alice", true, 7200, "survival")
	store.put(first)

	second := m.Reconcile("Alice", true, 7200, "survival")
	assert.Equal(t, first, second)
}

func TestReconcileTransitionInvariant(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	observations := []bool{true, true, false, true, false, false, true}
	for i, online := range observations {
		p := m.Reconcile("Alice", online, int64(i*1000), "survival")
		store.put(p)

		set := 0
		if p.JoinTime != nil {
			set++
		}
		if p.LastSeen != nil {
			set++
		}
		assert.Equal(t, 1, set, "observation %d: exactly one of joinTime/lastSeen must be set", i)
	}
}

func TestReconcileRankFromMergedHours(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	// 60 hours stored, regressed observation: rank still reflects 60h
	store.put(m.Reconcile("Alice", true, 60*3600*20, "survival"))
	p := m.Reconcile("Alice", true, 10, "survival")

	assert.Equal(t, int64(60), p.PlayTime.Hours)
	assert.Equal(t, "Dedicated", p.Rank.Name)
}

func TestReconcilePreservesSupporter(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	seed := m.Reconcile("Alice", true, 100, "survival")
	seed.Supporter = true
	store.put(seed)

	p := m.Reconcile("Alice", false, 200, "survival")
	assert.True(t, p.Supporter)
}

func TestReconcileCaseInsensitiveLookup(t *testing.T) {
	store := newFakeStore()
	m := New(store, fixedClock(t0))

	store.put(m.Reconcile("Alice", true, 100000, "survival"))

	p := m.Reconcile("ALICE", true, 100, "survival")
	assert.Equal(t, int64(100000), p.PlayTime.Ticks)
}

func TestReconcileStoreErrorContinues(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("db down")
	m := New(store, fixedClock(t0))

	p := m.Reconcile("Alice", true, 7200, "survival")

	assert.Equal(t, "Alice", p.Username)
	assert.Equal(t, int64(360), p.PlayTime.Seconds)
	require.NotNil(t, p.JoinTime)
}
