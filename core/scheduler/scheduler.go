// Package scheduler drives the node's markets with a cooperative tick loop.
// Every market state change happens inside a tick, so market code never needs
// its own synchronization.
package scheduler

import (
	"context"
	"time"

	"github.com/kilianp07/transactive/core/logger"
	"github.com/kilianp07/transactive/core/market"
)

// Scheduler ticks a node's markets at a fixed cadence.
type Scheduler struct {
	node     *market.Node
	interval time.Duration
	log      logger.Logger
}

// New returns a scheduler ticking the node every interval. A non-positive
// interval defaults to one second.
func New(n *market.Node, interval time.Duration, log logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Scheduler{node: n, interval: interval, log: log}
}

// Step runs one tick: every market's state machine once, then the removal of
// markets that expired during the tick. Markets spawned mid-tick get their
// first events on the next tick.
func (s *Scheduler) Step() {
	active := make([]*market.Market, len(s.node.Markets))
	copy(active, s.node.Markets)
	for _, m := range active {
		m.Events(s.node)
	}
	for _, m := range s.node.PruneExpired() {
		s.log.Infof("market %s expired and was removed", m.Name)
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("scheduler started, tick every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}
