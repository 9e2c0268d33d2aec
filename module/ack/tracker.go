package ack

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/tools/safe"
)

// Session tracks one fan-out push until every recipient confirmed it.
// Pending and Acknowledged are disjoint at all times.
type Session struct {
	SessionID   string
	Fingerprint string
	SenderUID   string
	CreatedAt   time.Time

	mu           sync.Mutex
	pending      map[string]struct{}
	acknowledged map[string]struct{}
}

// Remaining returns the number of recipients still pending.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) isComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}

type Conf struct {
	Retention  time.Duration    // sessions older than this are swept regardless of state
	SweepEvery time.Duration    // sweep period
	Clock      func() time.Time // injectable for tests; nil => time.Now
}

func (c *Conf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Retention <= 0 {
		c.Retention = 5 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Minute
	}
}

// Tracker owns all in-flight acknowledgment sessions plus the legacy
// fingerprint -> sender map for clients that acknowledge by content
// fingerprint alone.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	legacy   map[string]string // fingerprint -> sender uid

	conf     Conf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewTracker(conf Conf) *Tracker {
	conf.norm()
	t := &Tracker{
		sessions: make(map[string]*Session),
		legacy:   make(map[string]string),
		conf:     conf,
		stopCh:   make(chan struct{}),
	}
	safe.Go("ack-sweeper", t.sweeper)
	return t
}

func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// CreateSession registers a fan-out with all recipients pending and
// returns the session id. The fan-out itself happens at the caller.
// The fingerprint is also claimed in the legacy map so fingerprint-only
// acknowledgments resolve to the same sender.
func (t *Tracker) CreateSession(fingerprint, senderUID string, recipientUIDs []string) string {
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	s := &Session{
		SessionID:    sessionID,
		Fingerprint:  fingerprint,
		SenderUID:    senderUID,
		CreatedAt:    t.conf.Clock(),
		pending:      make(map[string]struct{}, len(recipientUIDs)),
		acknowledged: make(map[string]struct{}, len(recipientUIDs)),
	}
	for _, uid := range recipientUIDs {
		s.pending[uid] = struct{}{}
	}

	t.mu.Lock()
	t.sessions[sessionID] = s
	t.legacy[fingerprint] = senderUID
	t.mu.Unlock()
	return sessionID
}

// Acknowledge moves recipientUID from pending to acknowledged.
// Returns (nil, false) when the session is gone or the recipient is
// not pending (duplicate, late, or never a recipient) - callers treat
// that as a silent no-op.
func (t *Tracker) Acknowledge(sessionID, recipientUID string) (*Session, bool) {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, pending := s.pending[recipientUID]; !pending {
		return nil, false
	}
	delete(s.pending, recipientUID)
	s.acknowledged[recipientUID] = struct{}{}
	return s, true
}

func (t *Tracker) IsComplete(sessionID string) bool {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return s.isComplete()
}

// Complete removes a finished session eagerly so memory does not wait
// for the sweep.
func (t *Tracker) Complete(sessionID string) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if ok {
		delete(t.sessions, sessionID)
		delete(t.legacy, s.Fingerprint)
	}
	t.mu.Unlock()
}

// ClaimLegacy resolves a fingerprint-only acknowledgment. First claim
// wins: the entry is removed before returning so a duplicate ack, or a
// later session-based ack for the same payload, cannot deliver twice.
func (t *Tracker) ClaimLegacy(fingerprint string) (senderUID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	senderUID, ok = t.legacy[fingerprint]
	if ok {
		delete(t.legacy, fingerprint)
	}
	return senderUID, ok
}

// CleanupForSender drops every session and legacy entry originated by
// a disconnecting sender; nobody is left to observe them.
func (t *Tracker) CleanupForSender(senderUID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		if s.SenderUID == senderUID {
			delete(t.sessions, id)
		}
	}
	for fp, uid := range t.legacy {
		if uid == senderUID {
			delete(t.legacy, fp)
		}
	}
}

// SessionCount is used by tests and the stats gauge.
func (t *Tracker) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Tracker) sweeper() {
	ticker := time.NewTicker(t.conf.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			safe.Run("ack-sweep", t.SweepExpired)
		}
	}
}

// SweepExpired removes sessions past the retention window even when
// never acknowledged, bounding memory under recipient failure.
func (t *Tracker) SweepExpired() {
	cutoff := t.conf.Clock().Add(-t.conf.Retention)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(t.sessions, id)
			delete(t.legacy, s.Fingerprint)
			removed++
		}
	}
	if removed > 0 {
		logger.Debugf("[ack] swept %d expired sessions", removed)
	}
}
