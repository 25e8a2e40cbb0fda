package protocol

import "sync"

// syncMap guards the authority memory. Plain atomic map operations are
// enough here: a check-then-set race at worst accepts one borderline update,
// which is not safety-critical.
type syncMap struct {
	mu sync.Mutex
	m  map[string]lastAccepted
}

func key(roomID, playerID string) string {
	return roomID + "|" + playerID
}

func (s *syncMap) get(roomID, playerID string) (lastAccepted, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return lastAccepted{}, false
	}
	e, ok := s.m[key(roomID, playerID)]
	return e, ok
}

func (s *syncMap) set(roomID, playerID string, e lastAccepted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]lastAccepted)
	}
	s.m[key(roomID, playerID)] = e
}

func (s *syncMap) delete(roomID, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key(roomID, playerID))
}
