package service

import (
	"context"
	"time"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/metrics"
)

type poller struct {
	baseURL string
	cancel  context.CancelFunc
}

// StartPolling retries allocation of a ready match until it lands on a server,
// leaves ready, or is stopped. A match has at most one poller; starting it again
// reports false.
func (s *Scheduler) StartPolling(matchSlug, baseURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.pollers[matchSlug]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	p := &poller{baseURL: baseURL, cancel: cancel}
	s.pollers[matchSlug] = p
	metrics.ActivePollers.Inc()

	s.pollWG.Add(1)
	go func() {
		defer s.pollWG.Done()
		defer s.forget(matchSlug, p)
		s.poll(ctx, matchSlug, baseURL)
	}()

	s.logger.Info("polling for a server", "match", matchSlug)
	return true
}

// StopPolling cancels the poller without waiting for it. Stopping a match that is
// not polled reports false.
func (s *Scheduler) StopPolling(matchSlug string) bool {
	s.mu.Lock()
	p, ok := s.pollers[matchSlug]
	if ok {
		delete(s.pollers, matchSlug)
		metrics.ActivePollers.Dec()
	}
	s.mu.Unlock()

	if ok {
		p.cancel()
	}
	return ok
}

// forget drops the poller entry if it still belongs to p.
func (s *Scheduler) forget(matchSlug string, p *poller) {
	s.mu.Lock()
	if cur, ok := s.pollers[matchSlug]; ok && cur == p {
		delete(s.pollers, matchSlug)
		metrics.ActivePollers.Dec()
	}
	s.mu.Unlock()
	p.cancel()
}

func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	stopped := make([]*poller, 0, len(s.pollers))
	for slug, p := range s.pollers {
		stopped = append(stopped, p)
		delete(s.pollers, slug)
		metrics.ActivePollers.Dec()
	}
	s.mu.Unlock()

	for _, p := range stopped {
		p.cancel()
	}
	return len(stopped)
}

func (s *Scheduler) Polling(matchSlug string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pollers[matchSlug]
	return ok
}

// Close stops every poller and waits for them to exit. No poller starts afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopAll()
	s.cancel()
	s.pollWG.Wait()
}

func (s *Scheduler) poll(ctx context.Context, matchSlug, baseURL string) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.pollOnce(ctx, matchSlug, baseURL) {
				return
			}
		}
	}
}

// pollOnce makes one allocation attempt and reports whether polling is over.
func (s *Scheduler) pollOnce(ctx context.Context, matchSlug, baseURL string) bool {
	match, err := s.matches.GetMatchBySlug(ctx, nil, matchSlug)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			s.logger.Info("stopped polling for removed match", "match", matchSlug)
			return true
		}
		s.logger.Warn("poll failed to read match", "match", matchSlug, "error", err)
		return false
	}
	if match.Status != bracket.MatchReady || match.ServerID != nil {
		return true
	}

	res, err := s.AllocateOne(ctx, matchSlug, baseURL)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.logger.Debug("poll did not allocate", "match", matchSlug, "error", err)
		// a failed load without rollback keeps the server; nothing left to poll for
		return res.ServerID != nil
	}
	return res.Success
}
