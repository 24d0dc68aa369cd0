package app

import (
	"context"
	"sync"

	"exam-attempt-service/internal/domain"
)

// Hub fans leaderboard updates out to in-process subscribers, keyed by exam.
// It satisfies Notifier for single-instance deployments.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan domain.LeaderboardUpdate]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan domain.LeaderboardUpdate]struct{})}
}

// Subscribe returns a channel of updates for examID.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(examID string) (<-chan domain.LeaderboardUpdate, func()) {
	ch := make(chan domain.LeaderboardUpdate, 8)

	h.mu.Lock()
	subs, ok := h.subscribers[examID]
	if !ok {
		subs = make(map[chan domain.LeaderboardUpdate]struct{})
		h.subscribers[examID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[examID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, examID)
		}
	}
	return ch, cancel
}

// Broadcast delivers update to every subscriber of its exam without blocking.
func (h *Hub) Broadcast(update domain.LeaderboardUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[update.ExamID] {
		select {
		case ch <- update:
		default:
			// Slow reader: drop the oldest pending update to make room.
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}

// Publish implements Notifier.
func (h *Hub) Publish(_ context.Context, update domain.LeaderboardUpdate) error {
	h.Broadcast(update)
	return nil
}

// Subscribers reports how many listeners an exam has.
func (h *Hub) Subscribers(examID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[examID])
}
