package forum

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/models"
)

// An in-memory Store with the same constraints as the real tables.
type memStore struct {
	mu      sync.Mutex
	threads map[string]models.TrackedThread
	actors  map[[2]string]models.ActorBumpState
}

var _ Store = &memStore{}

func newMemStore() *memStore {
	return &memStore{
		threads: map[string]models.TrackedThread{},
		actors:  map[[2]string]models.ActorBumpState{},
	}
}

func (s *memStore) FindThread(ctx context.Context, threadID string) (*models.TrackedThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, db.NotFound
	}
	return &t, nil
}

func (s *memStore) FindThreadByOwner(ctx context.Context, ownerID string) (*models.TrackedThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.OwnerID == ownerID {
			return &t, nil
		}
	}
	return nil, db.NotFound
}

func (s *memStore) FindThreadByFingerprint(ctx context.Context, fingerprint string) (*models.TrackedThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.ContentFingerprint != nil && *t.ContentFingerprint == fingerprint {
			return &t, nil
		}
	}
	return nil, db.NotFound
}

func (s *memStore) InsertThread(ctx context.Context, thread models.TrackedThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[thread.ThreadID]; ok {
		return ErrThreadAlreadyTracked
	}
	for _, t := range s.threads {
		if t.OwnerID == thread.OwnerID {
			return ErrOwnerHasThread
		}
	}
	s.threads[thread.ThreadID] = thread
	return nil
}

func (s *memStore) DeleteThread(ctx context.Context, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.threads[threadID]
	delete(s.threads, threadID)
	return ok, nil
}

func (s *memStore) TouchThread(ctx context.Context, threadID string, lastBumped time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		t.LastBumped = lastBumped
		s.threads[threadID] = t
	}
	return nil
}

func (s *memStore) SetInfoMessage(ctx context.Context, threadID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		t.InfoMessageID = &messageID
		s.threads[threadID] = t
	}
	return nil
}

func (s *memStore) UpdateActor(ctx context.Context, threadID, actorID string, fn func(state *models.ActorBumpState) error) (*models.ActorBumpState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{threadID, actorID}
	state, ok := s.actors[key]
	if !ok {
		state = models.ActorBumpState{ThreadID: threadID, ActorID: actorID}
		s.actors[key] = state
	}
	if err := fn(&state); err != nil {
		unchanged := s.actors[key]
		return &unchanged, err
	}
	s.actors[key] = state
	return &state, nil
}

func (s *memStore) ListActors(ctx context.Context, threadID string) ([]*models.ActorBumpState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*models.ActorBumpState
	for key, state := range s.actors {
		if key[0] == threadID {
			state := state
			res = append(res, &state)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ActorID < res[j].ActorID })
	return res, nil
}

func (s *memStore) ClearBans(ctx context.Context, threadID, actorID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, state := range s.actors {
		if (threadID == "" || key[0] == threadID) && (actorID == "" || key[1] == actorID) {
			state.StrikeCount = 0
			state.BanExpires = nil
			s.actors[key] = state
			n++
		}
	}
	return n, nil
}

func (s *memStore) PruneOrphanedActors(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.actors {
		if _, ok := s.threads[key[0]]; !ok {
			delete(s.actors, key)
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountActiveBans(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, state := range s.actors {
		if state.IsBanned(now) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) actor(threadID, actorID string) *models.ActorBumpState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.actors[[2]string{threadID, actorID}]
	return &state
}

// Threads that exist on the fake platform.
type fakePlatform struct {
	mu      sync.Mutex
	threads map[string]bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{threads: map[string]bool{}}
}

func (p *fakePlatform) ThreadExists(ctx context.Context, threadID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads[threadID]
}

func (p *fakePlatform) create(threadID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads[threadID] = true
}

func (p *fakePlatform) remove(threadID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.threads, threadID)
}
