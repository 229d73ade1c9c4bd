// Package scheduler periodically publishes the ICS feed to disk on the
// cron schedule configured under feed.refresh.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"academycal/internal/config"
	"academycal/internal/ics"
	appLog "academycal/internal/log"
)

// Scheduler writes the feed on every cron tick.
type Scheduler struct {
	src  ics.EventSource
	feed config.FeedConfig
	now  func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Scheduler exporting from src.
func New(src ics.EventSource, feed config.FeedConfig) *Scheduler {
	return &Scheduler{src: src, feed: feed, now: time.Now}
}

// RunOnce exports the current window and replaces the feed file.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.feed.Path == "" {
		return errors.New("feed path is empty")
	}

	now := s.now().UTC()
	start, end := s.feed.Window(now)
	body, err := ics.Export(ctx, s.src, ics.FeedOptions{
		Name:        s.feed.Name,
		Expand:      s.feed.Expand,
		WindowStart: start,
		WindowEnd:   end,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("export feed: %w", err)
	}
	if err := config.WriteFileAtomic(s.feed.Path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write feed %s: %w", s.feed.Path, err)
	}

	appLog.Info("feed written", "path", s.feed.Path, "bytes", len(body), "expand", s.feed.Expand)
	return nil
}

// Start writes the feed once and then on every tick of feed.refresh until
// ctx is done or Stop is called. With no feed path it does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.feed.Path == "" {
		appLog.Info("feed scheduler disabled; no feed.path configured")
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.feed.Refresh, func() {
		if err := s.RunOnce(ctx); err != nil {
			appLog.Error("feed refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("feed.refresh %q: %w", s.feed.Refresh, err)
	}

	if err := s.RunOnce(ctx); err != nil {
		appLog.Error("initial feed write failed", err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()
	appLog.Info("feed scheduler started", "refresh", s.feed.Refresh, "path", s.feed.Path)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running export to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("feed scheduler stopped")
}
