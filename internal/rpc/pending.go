// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"sync"
)

// Outcome is what a pending slot receives: a response, or a local failure
// such as connection teardown.
type Outcome struct {
	Response Response
	Err      error
}

// PendingTable maps outgoing call ids to pending result slots.
//
// Ids increase monotonically from 1; VoidID is never allocated. Each slot is
// consumed exactly once, by Resolve, Cancel or RejectAll.
type PendingTable struct {
	mu     sync.Mutex
	nextID uint64
	slots  map[uint64]chan Outcome
	closed error
}

// NewPendingTable creates an empty correlation table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		slots: make(map[uint64]chan Outcome),
	}
}

// Add allocates an id and its slot. It fails once the table was rejected.
func (t *PendingTable) Add() (uint64, <-chan Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return 0, nil, t.closed
	}

	t.nextID++
	if t.nextID == VoidID {
		t.nextID++
	}
	id := t.nextID
	slot := make(chan Outcome, 1)
	t.slots[id] = slot
	return id, slot, nil
}

// Resolve delivers resp to the slot with the same id. It reports false when
// no slot is pending for that id.
func (t *PendingTable) Resolve(resp Response) bool {
	t.mu.Lock()
	slot, ok := t.slots[resp.ID]
	if ok {
		delete(t.slots, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	slot <- Outcome{Response: resp}
	return true
}

// Cancel drops the slot for id without delivering anything.
func (t *PendingTable) Cancel(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.slots[id]; !ok {
		return false
	}
	delete(t.slots, id)
	return true
}

// RejectAll fails every pending slot with err and refuses further Adds.
// It returns the number of slots rejected.
func (t *PendingTable) RejectAll(err error) int {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[uint64]chan Outcome)
	if t.closed == nil {
		t.closed = err
	}
	t.mu.Unlock()

	for _, slot := range slots {
		slot <- Outcome{Err: err}
	}
	return len(slots)
}

// Len returns the number of pending slots.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
