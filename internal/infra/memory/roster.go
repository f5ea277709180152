package memory

import "sync"

// Roster is a static display-name lookup standing in for the external
// identity service. Unknown learners fall back to their id at the caller.
type Roster struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewRoster(names map[string]string) *Roster {
	if names == nil {
		names = make(map[string]string)
	}
	return &Roster{names: names}
}

func (r *Roster) DisplayName(learnerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[learnerID]
	return name, ok
}

// Set records or updates a display name (e.g., learned from a room join).
func (r *Roster) Set(learnerID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[learnerID] = name
}
