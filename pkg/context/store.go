package context

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const storeShards = 16

// SessionStore maps session ids to conversation contexts. It is sharded to
// keep lock contention low; expiry is enforced lazily on access and by Sweep.
type SessionStore struct {
	shards [storeShards]storeShard

	ttl       time.Duration
	maxTurns  int
	heuristic Heuristic
}

type storeShard struct {
	mu       sync.RWMutex
	sessions map[string]*ConversationContext
}

// NewSessionStore creates a store whose contexts expire after ttl of
// inactivity and hold at most maxTurns turns each.
func NewSessionStore(ttl time.Duration, maxTurns int, h Heuristic) *SessionStore {
	s := &SessionStore{
		ttl:       ttl,
		maxTurns:  maxTurns,
		heuristic: h,
	}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*ConversationContext)
	}
	return s
}

func (s *SessionStore) shard(id string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[h.Sum32()%storeShards]
}

// GetOrCreate returns the live context for id, or a fresh context with a
// newly minted id when id is empty, unknown, or expired. An expired session
// id behaves identically to no session id.
func (s *SessionStore) GetOrCreate(id string) *ConversationContext {
	if id != "" {
		shard := s.shard(id)

		shard.mu.RLock()
		ctx, ok := shard.sessions[id]
		shard.mu.RUnlock()

		if ok {
			if s.expired(ctx, time.Now()) {
				shard.mu.Lock()
				delete(shard.sessions, id)
				shard.mu.Unlock()
			} else {
				ctx.Touch()
				return ctx
			}
		}
	}

	ctx := NewConversationContext(uuid.NewString(), s.maxTurns, s.heuristic)
	shard := s.shard(ctx.SessionID())

	shard.mu.Lock()
	shard.sessions[ctx.SessionID()] = ctx
	shard.mu.Unlock()

	return ctx
}

// Get returns the live context for id, or nil if absent or expired.
func (s *SessionStore) Get(id string) *ConversationContext {
	if id == "" {
		return nil
	}
	shard := s.shard(id)

	shard.mu.RLock()
	ctx, ok := shard.sessions[id]
	shard.mu.RUnlock()

	if !ok || s.expired(ctx, time.Now()) {
		return nil
	}
	return ctx
}

// Sweep removes expired contexts and returns how many were dropped.
func (s *SessionStore) Sweep() int {
	now := time.Now()
	removed := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for id, ctx := range shard.sessions {
			if s.expired(ctx, now) {
				delete(shard.sessions, id)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored contexts, expired ones included.
func (s *SessionStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].sessions)
		s.shards[i].mu.RUnlock()
	}
	return n
}

func (s *SessionStore) expired(ctx *ConversationContext, now time.Time) bool {
	return s.ttl > 0 && now.Sub(ctx.LastActivity()) > s.ttl
}
