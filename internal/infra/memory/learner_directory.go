package memory

import (
	"context"
	"sync"
)

// LearnerDirectory is a static id -> display name lookup.
type LearnerDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewLearnerDirectory(names map[string]string) *LearnerDirectory {
	d := &LearnerDirectory{names: make(map[string]string, len(names))}
	for id, name := range names {
		d.names[id] = name
	}
	return d
}

func (d *LearnerDirectory) Set(learnerID, displayName string) {
	d.mu.Lock()
	d.names[learnerID] = displayName
	d.mu.Unlock()
}

func (d *LearnerDirectory) DisplayNames(_ context.Context, learnerIDs []string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(learnerIDs))
	for _, id := range learnerIDs {
		if name, ok := d.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}
