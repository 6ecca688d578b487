// Package livestats keeps the running score of matches in memory. Nothing here is
// persisted: entries expire when a match stops reporting.
package livestats

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type Stats struct {
	MapNumber  int       `json:"mapNumber"`
	Round      int       `json:"round"`
	Team1Score int       `json:"team1Score"`
	Team2Score int       `json:"team2Score"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type RoundEnd struct {
	MapNumber  int
	Round      int
	Team1Score int
	Team2Score int
}

type Store struct {
	cache *cache.Cache
	// serializes read-modify-write of a single entry
	mu sync.Mutex
}

func New(ttl time.Duration) *Store {
	return &Store{cache: cache.New(ttl, ttl*2)}
}

// Reset discards whatever was accumulated for the match.
func (s *Store) Reset(matchSlug string) {
	s.cache.Delete(matchSlug)
}

func (s *Store) RecordRound(matchSlug string, ev RoundEnd, at time.Time) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	if cached, ok := s.cache.Get(matchSlug); ok {
		st = cached.(Stats)
	}
	// events for an older map are stale
	if ev.MapNumber < st.MapNumber {
		return st
	}
	st.MapNumber = ev.MapNumber
	st.Round = ev.Round
	st.Team1Score = ev.Team1Score
	st.Team2Score = ev.Team2Score
	st.UpdatedAt = at

	s.cache.Set(matchSlug, st, cache.DefaultExpiration)
	return st
}

func (s *Store) Get(matchSlug string) (Stats, bool) {
	cached, ok := s.cache.Get(matchSlug)
	if !ok {
		return Stats{}, false
	}
	return cached.(Stats), true
}
