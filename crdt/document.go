// Package crdt implements the replicated document state: a tombstoned
// last-writer-wins element set holding the ordered overlay collection, and
// a last-writer-wins presence map holding cursors. Apply rules are
// commutative and idempotent, so replicas that receive the same set of
// operations converge to the same materialized state regardless of
// delivery order. The package performs no synchronization of its own;
// callers serialize access (the collab.Manager holds one replica behind a
// mutex).
package crdt

import (
	"sort"

	"pdfcollab/common"
	"pdfcollab/overlay"
)

// elementEntry is the register for one element id.
type elementEntry struct {
	// value is the current whole-element value.
	value overlay.Element

	// inserted is the timestamp of the original insertion. It never
	// changes once set and determines the element's position in the
	// materialized collection. The zero value marks an entry created by
	// an update that outran its insertion; such entries stay invisible
	// until the insertion arrives.
	inserted common.LogicalTimestamp

	// updated is the LWW tag of the current value.
	updated common.LogicalTimestamp

	// deleted is the tombstone tag; the zero value means live. Once set,
	// the element stays dead: updates to a removed element are dropped.
	deleted common.LogicalTimestamp
}

// presenceEntry is the register for one user's cursor.
type presenceEntry struct {
	cursor  overlay.Cursor
	updated common.LogicalTimestamp
}

// Document is one replica of the shared collaborative state.
type Document struct {
	// sessionID is the origin tag of this replica.
	sessionID common.SessionID

	// clock tracks the highest counter observed per origin session.
	clock map[string]uint64

	// elements maps element id to its register. Tombstoned entries are
	// retained so that concurrent insert/update operations arriving after
	// a removal converge to the removed state everywhere.
	elements map[string]*elementEntry

	// presence maps user id to that user's cursor register.
	presence map[string]*presenceEntry
}

// NewDocument creates an empty replica owned by the given session.
func NewDocument(sessionID common.SessionID) *Document {
	return &Document{
		sessionID: sessionID,
		clock:     make(map[string]uint64),
		elements:  make(map[string]*elementEntry),
		presence:  make(map[string]*presenceEntry),
	}
}

// SessionID returns the replica's origin session id.
func (d *Document) SessionID() common.SessionID {
	return d.sessionID
}

// NextTimestamp returns the next logical timestamp for the local session.
// The counter starts above every counter observed so far, so a local edit
// always wins LWW against the operations it was issued after.
func (d *Document) NextTimestamp() common.LogicalTimestamp {
	counter := d.maxCounter() + 1
	d.clock[d.sessionID.String()] = counter
	return common.LogicalTimestamp{SID: d.sessionID, Counter: counter}
}

// maxCounter returns the highest counter observed from any origin.
func (d *Document) maxCounter() uint64 {
	var max uint64
	for _, c := range d.clock {
		if c > max {
			max = c
		}
	}
	return max
}

// witness advances the clock for the operation's origin.
func (d *Document) witness(ts common.LogicalTimestamp) {
	sid := ts.SID.String()
	if ts.Counter > d.clock[sid] {
		d.clock[sid] = ts.Counter
	}
}

// ApplyInsert applies an element insertion. It reports whether the
// materialized collection changed. Re-delivery of the same insertion is a
// no-op; an insertion for an id that was already removed stays removed.
func (d *Document) ApplyInsert(el overlay.Element, ts common.LogicalTimestamp) bool {
	d.witness(ts)

	entry, ok := d.elements[el.GetID()]
	if !ok {
		d.elements[el.GetID()] = &elementEntry{
			value:    el,
			inserted: ts,
			updated:  ts,
		}
		return true
	}

	if !entry.deleted.IsNil() {
		return false
	}

	// An update for this id got here first: the insertion fixes the
	// collection position and the element becomes visible, keeping
	// whichever value carries the greater tag.
	if entry.inserted.IsNil() {
		entry.inserted = ts
		if ts.Compare(entry.updated) > 0 {
			entry.value = el
			entry.updated = ts
		}
		return true
	}

	// Duplicate or concurrent insert for an existing id: keep the value
	// with the greater tag so all replicas pick the same winner.
	if ts.Compare(entry.updated) > 0 {
		entry.value = el
		entry.updated = ts
		return true
	}
	return false
}

// ApplyUpdate applies a whole-value replacement for an existing element.
// Updates to unknown or removed ids are silently dropped, and a value only
// sticks if its tag is greater than the current one (whole-value LWW).
func (d *Document) ApplyUpdate(el overlay.Element, ts common.LogicalTimestamp) bool {
	d.witness(ts)

	entry, ok := d.elements[el.GetID()]
	if !ok {
		// The update outran its insertion. Buffer it invisibly so the
		// converged value does not depend on delivery order; the
		// insertion makes the element visible when it lands.
		d.elements[el.GetID()] = &elementEntry{value: el, updated: ts}
		return false
	}
	if !entry.deleted.IsNil() {
		return false
	}

	if ts.Compare(entry.updated) > 0 {
		entry.value = el
		entry.updated = ts
		changed := !entry.inserted.IsNil()
		return changed
	}
	return false
}

// ApplyRemove applies a removal tombstone. Removing an unknown id records
// the tombstone so that a concurrent insert arriving later also converges
// to the removed state. It reports whether a live element was removed.
func (d *Document) ApplyRemove(id string, ts common.LogicalTimestamp) bool {
	d.witness(ts)

	entry, ok := d.elements[id]
	if !ok {
		d.elements[id] = &elementEntry{deleted: ts}
		return false
	}

	if !entry.deleted.IsNil() {
		return false
	}

	visible := !entry.inserted.IsNil()
	entry.deleted = ts
	entry.value = nil
	return visible
}

// ApplyCursor applies a cursor position for a user (last write wins per
// user id). It reports whether the presence map changed.
func (d *Document) ApplyCursor(cursor overlay.Cursor, ts common.LogicalTimestamp) bool {
	d.witness(ts)

	entry, ok := d.presence[cursor.UserID]
	if !ok {
		d.presence[cursor.UserID] = &presenceEntry{cursor: cursor, updated: ts}
		return true
	}

	if ts.Compare(entry.updated) > 0 {
		entry.cursor = cursor
		entry.updated = ts
		return true
	}
	return false
}

// GetElement returns the live element with the given id.
func (d *Document) GetElement(id string) (overlay.Element, bool) {
	entry, ok := d.elements[id]
	if !ok || !entry.deleted.IsNil() || entry.inserted.IsNil() {
		return nil, false
	}
	return entry.value, true
}

// Elements returns the materialized ordered collection of live elements.
// The order is by insertion tag (counter, then origin), which is the same
// at every replica. It has no semantic meaning beyond being stable.
func (d *Document) Elements() []overlay.Element {
	entries := make([]*elementEntry, 0, len(d.elements))
	for _, entry := range d.elements {
		if entry.deleted.IsNil() && !entry.inserted.IsNil() {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].inserted.Compare(entries[j].inserted) < 0
	})

	elements := make([]overlay.Element, len(entries))
	for i, entry := range entries {
		elements[i] = entry.value
	}
	return elements
}

// Cursors returns the presence map, excluding the given user id. The
// local user id is passed so a replica never sees its own cursor.
func (d *Document) Cursors(excludeUserID string) map[string]overlay.Cursor {
	cursors := make(map[string]overlay.Cursor, len(d.presence))
	for userID, entry := range d.presence {
		if userID == excludeUserID {
			continue
		}
		cursors[userID] = entry.cursor
	}
	return cursors
}

// Clock returns a copy of the replica's logical clock, keyed by origin
// session id string.
func (d *Document) Clock() map[string]uint64 {
	clock := make(map[string]uint64, len(d.clock))
	for sid, counter := range d.clock {
		clock[sid] = counter
	}
	return clock
}
