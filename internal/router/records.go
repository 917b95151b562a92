package router

import (
	"sync"
	"time"

	"cyberguard/internal/protocol"
)

// CoordinationStatus is the lifecycle of one tracked request.
type CoordinationStatus string

const (
	CoordinationPending   CoordinationStatus = "pending"
	CoordinationCompleted CoordinationStatus = "completed"
	CoordinationFailed    CoordinationStatus = "failed"
)

// CoordinationRecord tracks one in-flight or finished request, keyed by
// correlation id. Created when the request is sent, resolved exactly once,
// retained until the owning session ends.
type CoordinationRecord struct {
	mu sync.Mutex

	CorrelationID string
	SessionID     string
	Target        string
	MessageType   string
	Status        CoordinationStatus
	StartedAt     time.Time
	CompletedAt   time.Time
	Response      protocol.Payload
	Err           string
	Attempts      int
}

// resolve moves the record from pending to its terminal status. The first
// resolution wins; later calls are ignored so a cancelled broadcast leg that
// races its own completion cannot double-complete.
func (r *CoordinationRecord) resolve(status CoordinationStatus, now time.Time, resp protocol.Payload, errMsg string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status != CoordinationPending {
		return
	}
	r.Status = status
	r.CompletedAt = now
	r.Response = resp
	r.Err = errMsg
	r.Attempts = attempts
}

// Snapshot returns a copy safe to read without holding the record lock.
func (r *CoordinationRecord) Snapshot() CoordinationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return CoordinationRecord{
		CorrelationID: r.CorrelationID,
		SessionID:     r.SessionID,
		Target:        r.Target,
		MessageType:   r.MessageType,
		Status:        r.Status,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		Response:      r.Response,
		Err:           r.Err,
		Attempts:      r.Attempts,
	}
}

// recordTable holds coordination records keyed by correlation id. The table
// lock only guards the map; each record locks itself, so slow resolutions on
// one session never block lookups for another.
type recordTable struct {
	mu      sync.RWMutex
	records map[string]*CoordinationRecord
}

func newRecordTable() *recordTable {
	return &recordTable{records: make(map[string]*CoordinationRecord)}
}

func (t *recordTable) open(msg *protocol.Message, target string, now time.Time) *CoordinationRecord {
	rec := &CoordinationRecord{
		CorrelationID: msg.CorrelationID,
		SessionID:     msg.SessionID,
		Target:        target,
		MessageType:   msg.Type,
		Status:        CoordinationPending,
		StartedAt:     now,
	}
	t.mu.Lock()
	t.records[msg.CorrelationID] = rec
	t.mu.Unlock()
	return rec
}

func (t *recordTable) get(correlationID string) (*CoordinationRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[correlationID]
	return rec, ok
}

// dropSession discards the records of a finished session.
func (t *recordTable) dropSession(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, rec := range t.records {
		if rec.SessionID == sessionID {
			delete(t.records, id)
			n++
		}
	}
	return n
}

func (t *recordTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
