package server

import (
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/harrisonrobin/aide/pkg/assistant"
)

const (
	maxSessions  = 10_000
	storeRetries = 3
)

var ErrSessionNotStored = errors.New("session could not be stored")

// Sessions keeps conversation state in memory. A session expires after ttl
// without activity.
type Sessions struct {
	c   *ristretto.Cache[string, *assistant.Session]
	ttl time.Duration
}

func NewSessions(ttl time.Duration) (*Sessions, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *assistant.Session]{
		NumCounters: maxSessions * 10,
		MaxCost:     maxSessions,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Sessions{c: c, ttl: ttl}, nil
}

// Get returns the live session id and extends its lifetime. A refresh the
// cache drops leaves the previous expiry in place.
func (s *Sessions) Get(id string) (*assistant.Session, bool) {
	sess, ok := s.c.Get(id)
	if !ok {
		return nil, false
	}
	s.put(sess)
	return sess, true
}

// Create starts a session with a fresh id. It fails when the cache keeps
// refusing the entry.
func (s *Sessions) Create() (*assistant.Session, error) {
	sess := assistant.NewSession(uuid.NewString())
	for range storeRetries {
		if !s.put(sess) {
			continue
		}
		if _, ok := s.c.Get(sess.ID); ok {
			return sess, nil
		}
	}
	return nil, ErrSessionNotStored
}

// put reports whether the cache accepted the write.
func (s *Sessions) put(sess *assistant.Session) bool {
	ok := s.c.SetWithTTL(sess.ID, sess, 1, s.ttl)
	// Make the write visible to the next Get.
	s.c.Wait()
	return ok
}

func (s *Sessions) Close() {
	s.c.Close()
}
