package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/ember/internal/session"
)

// sessionRecord pairs a session with the mutex that serializes its
// turns. Sessions are single-owner resources; the record's lock makes
// concurrent HTTP callers take turns instead of corrupting one.
type sessionRecord struct {
	mu        sync.Mutex
	sess      *session.Session
	model     string
	createdAt time.Time
}

// SessionStore holds live sessions keyed by id.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*sessionRecord)}
}

// Put registers sess and returns its new id.
func (s *SessionStore) Put(sess *session.Session, model string) (string, *sessionRecord) {
	rec := &sessionRecord{sess: sess, model: model, createdAt: time.Now()}
	id := "sess_" + uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = rec
	s.mu.Unlock()
	return id, rec
}

func (s *SessionStore) Get(id string) (*sessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

// Remove unregisters id, returning the record so the caller can close
// the session outside the store lock.
func (s *SessionStore) Remove(id string) (*sessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return rec, ok
}

// Len reports how many sessions are live.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseAll tears down every session, for server shutdown.
func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	recs := make([]*sessionRecord, 0, len(s.sessions))
	for id, rec := range s.sessions {
		recs = append(recs, rec)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, rec := range recs {
		rec.mu.Lock()
		rec.sess.Close()
		rec.mu.Unlock()
	}
}
