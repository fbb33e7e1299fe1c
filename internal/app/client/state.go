package client

import (
	"sync"
	"time"

	"mealcheck/internal/domain/checkin"
	"mealcheck/internal/metrics"
)

// StateHolder владеет SyncState процесса. Меняют его только Reconciler и Monitor,
// остальные читают снимок или подписываются на изменения.
type StateHolder struct {
	mu     sync.RWMutex
	state  checkin.SyncState
	subs   map[int]chan checkin.SyncState
	nextID int
}

func NewStateHolder() *StateHolder {
	return &StateHolder{
		subs: make(map[int]chan checkin.SyncState),
	}
}

// Snapshot возвращает копию текущего состояния
func (s *StateHolder) Snapshot() checkin.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetOnline возвращает предыдущее значение
func (s *StateHolder) SetOnline(online bool) (was bool) {
	s.mu.Lock()
	was = s.state.IsOnline
	s.state.IsOnline = online
	s.mu.Unlock()

	if was != online {
		metrics.SetOnline(online)
		s.publish()
	}
	return was
}

func (s *StateHolder) setSyncing(inProgress bool) {
	s.mu.Lock()
	s.state.SyncInProgress = inProgress
	s.mu.Unlock()
	s.publish()
}

func (s *StateHolder) setLastSync(t time.Time) {
	s.mu.Lock()
	s.state.LastSyncAt = t
	s.mu.Unlock()
	s.publish()
}

// Subscribe возвращает канал изменений состояния. Медленный подписчик
// получает только последнее значение.
func (s *StateHolder) Subscribe() (<-chan checkin.SyncState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan checkin.SyncState, 1)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *StateHolder) publish() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs {
		// выбрасываем устаревшее значение
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.state:
		default:
		}
	}
}
