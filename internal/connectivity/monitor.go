// Package connectivity tracks whether the device can reach the network and
// reports each online/offline edge exactly once.
package connectivity

import (
	"sync"

	"Mansoor88-6/fieldsync-agent/internal/metrics"

	"go.uber.org/zap"
)

// Monitor is an event source for connectivity state. It never blocks.
type Monitor interface {
	IsOnline() bool
	// OnTransition registers fn for every observed edge. The returned
	// function removes the subscription.
	OnTransition(fn func(online bool)) (cancel func())
}

// subscribers fans an edge out to registered callbacks. notify calls are
// serialized so subscribers see edges in the order they happened.
type subscribers struct {
	mu     sync.Mutex
	fireMu sync.Mutex
	nextID int
	fns    map[int]func(bool)
}

func (s *subscribers) add(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) snapshot() []func(bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fns := make([]func(bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	return fns
}

func (s *subscribers) notify(online bool, logger *zap.Logger) {
	metrics.RecordTransition(online)
	if online {
		logger.Info("Connectivity restored")
	} else {
		logger.Info("Connectivity lost")
	}

	for _, fn := range s.snapshot() {
		fn(online)
	}
}

// Switch is a push-style Monitor: the platform reports changes with Set
type Switch struct {
	mu     sync.RWMutex
	online bool
	subs   subscribers
	logger *zap.Logger
}

// NewSwitch creates a monitor with the platform's current state
func NewSwitch(initial bool, logger *zap.Logger) *Switch {
	if initial {
		metrics.ConnectivityOnline.Set(1)
	} else {
		metrics.ConnectivityOnline.Set(0)
	}
	return &Switch{
		online: initial,
		logger: logger,
	}
}

func (s *Switch) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

func (s *Switch) OnTransition(fn func(online bool)) func() {
	return s.subs.add(fn)
}

// Set records the platform-reported state. Repeating the current state
// fires nothing.
func (s *Switch) Set(online bool) {
	s.subs.fireMu.Lock()
	defer s.subs.fireMu.Unlock()

	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.mu.Unlock()

	s.subs.notify(online, s.logger)
}
