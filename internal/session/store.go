package session

import (
	"sync"
)

// Store maps call ids to live sessions. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Put inserts sess under its call id and returns the session it replaced, if
// any. The caller is responsible for closing the replaced session.
func (st *Store) Put(sess *Session) (replaced *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	replaced = st.sessions[sess.CallID()]
	st.sessions[sess.CallID()] = sess
	return replaced
}

// Get returns the live session for callID.
func (st *Store) Get(callID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[callID]
	return sess, ok
}

// Remove deletes sess if it is still the entry for its call id. A session
// that has been replaced by a newer one for the same call is left alone.
func (st *Store) Remove(sess *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.sessions[sess.CallID()]; ok && cur == sess {
		delete(st.sessions, sess.CallID())
		return true
	}
	return false
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Drain removes every session from the store and returns them.
func (st *Store) Drain() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Session, 0, len(st.sessions))
	for id, sess := range st.sessions {
		out = append(out, sess)
		delete(st.sessions, id)
	}
	return out
}
