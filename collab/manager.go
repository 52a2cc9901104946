// Package collab implements the client side of the collaboration core:
// the Manager wraps one replica of the shared document state, applies
// local edits immediately, replicates them through a reconnecting
// websocket provider, and notifies observers with full snapshots of the
// element collection and the presence map.
package collab

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pdfcollab/common"
	"pdfcollab/crdt"
	"pdfcollab/crdtpatch"
	"pdfcollab/overlay"
	"pdfcollab/relay"
	"pdfcollab/session"
)

// Transport delivers encoded replication updates to the rest of the
// session. Implementations must not block the caller on network progress:
// updates issued while disconnected are queued and flushed on reconnect.
type Transport interface {
	// Send queues one encoded update envelope payload for the channel.
	Send(channel relay.Channel, payload []byte) error

	// Close closes the transport. It must be idempotent.
	Close() error
}

// ElementObserver receives the full ordered element collection after every
// change, local or remote.
type ElementObserver func(elements []overlay.Element)

// CursorObserver receives the full presence map, excluding the local
// user's own cursor, after every presence change.
type CursorObserver func(cursors map[string]overlay.Cursor)

// Manager is one client's collaboration endpoint for one open document.
// All local operations apply to the local replica and return immediately;
// propagation to other replicas is asynchronous and unacknowledged.
type Manager struct {
	// doc is the local replica.
	doc *crdt.Document

	// user is the local identity bound to every outgoing change.
	user session.User

	// codec encodes patches into opaque transport payloads.
	codec crdtpatch.EncoderDecoder

	// transport replicates updates; nil only in tests that drive
	// ReceiveUpdate directly.
	transport Transport

	// elementObservers are notified after element collection changes.
	elementObservers []ElementObserver

	// cursorObservers are notified after presence changes.
	cursorObservers []CursorObserver

	// mutex serializes replica access between the caller and the
	// provider's receive goroutine.
	mutex sync.Mutex

	// logger is the structured logger.
	logger *zap.Logger

	// closed indicates the manager has been torn down.
	closed bool
}

// NewManager creates a manager over the given transport. The transport may
// be nil for a detached replica (remote updates fed via ReceiveUpdate).
func NewManager(user session.User, transport Transport, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		doc:       crdt.NewDocument(common.NewSessionID()),
		user:      user,
		codec:     &crdtpatch.JSONEncoderDecoder{},
		transport: transport,
		logger:    logger,
	}
}

// Connect creates a manager whose transport is a websocket provider
// connected to the relay at serverURL, joined to the session documentID.
func Connect(ctx context.Context, serverURL, documentID string, user session.User, options *ProviderOptions, logger *zap.Logger) (*Manager, error) {
	m := NewManager(user, nil, logger)
	provider, err := NewProvider(ctx, serverURL, documentID, m, options, logger)
	if err != nil {
		return nil, err
	}
	m.transport = provider
	return m, nil
}

// User returns the local user identity.
func (m *Manager) User() session.User {
	return m.user
}

// AddElement appends a fully-formed element (id pre-assigned by the
// caller) to the collection, stamping creator attribution, and replicates
// the insertion. Element ids must be unique; the caller generates them
// with a collision-resistant random scheme.
func (m *Manager) AddElement(el overlay.Element) {
	m.mutex.Lock()
	el = el.WithCreator(m.user.ID, m.user.Name)
	ts := m.doc.NextTimestamp()
	m.doc.ApplyInsert(el, ts)
	payload := m.encodePatch(ts, &crdtpatch.InsertOperation{OperationID: ts, Element: el})
	m.mutex.Unlock()

	m.notifyElements()
	m.send(relay.ChannelContent, payload)
}

// UpdateElement merges the partial fields over the element's current value
// and replicates the merged whole value. Updating an unknown or
// concurrently-removed id is a silent no-op.
func (m *Manager) UpdateElement(id string, update overlay.ElementUpdate) {
	m.mutex.Lock()
	el, ok := m.doc.GetElement(id)
	if !ok {
		m.mutex.Unlock()
		return
	}
	merged := el.Merge(update)
	ts := m.doc.NextTimestamp()
	m.doc.ApplyUpdate(merged, ts)
	payload := m.encodePatch(ts, &crdtpatch.UpdateOperation{OperationID: ts, Element: merged})
	m.mutex.Unlock()

	m.notifyElements()
	m.send(relay.ChannelContent, payload)
}

// RemoveElement removes the element by id and replicates a tombstone.
// Removing an unknown id is a no-op.
func (m *Manager) RemoveElement(id string) {
	m.mutex.Lock()
	if _, ok := m.doc.GetElement(id); !ok {
		m.mutex.Unlock()
		return
	}
	ts := m.doc.NextTimestamp()
	m.doc.ApplyRemove(id, ts)
	payload := m.encodePatch(ts, &crdtpatch.RemoveOperation{OperationID: ts, TargetID: id})
	m.mutex.Unlock()

	m.notifyElements()
	m.send(relay.ChannelContent, payload)
}

// UpdateCursor overwrites the local user's presence entry and replicates
// it on the presence channel. The local user's own cursor is never
// reported back through cursor observers.
func (m *Manager) UpdateCursor(x, y float64) {
	cursor := overlay.Cursor{
		UserID:   m.user.ID,
		UserName: m.user.Name,
		X:        x,
		Y:        y,
		Color:    m.user.Color,
	}

	m.mutex.Lock()
	ts := m.doc.NextTimestamp()
	m.doc.ApplyCursor(cursor, ts)
	payload := m.encodePatch(ts, &crdtpatch.CursorOperation{OperationID: ts, Cursor: cursor})
	m.mutex.Unlock()

	m.send(relay.ChannelPresence, payload)
}

// Elements returns the current materialized ordered collection.
func (m *Manager) Elements() []overlay.Element {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.doc.Elements()
}

// Cursors returns the current presence map, excluding the local user.
func (m *Manager) Cursors() map[string]overlay.Cursor {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.doc.Cursors(m.user.ID)
}

// ObserveElements registers a callback invoked with the full ordered
// collection whenever it changes, from local operations or incoming
// updates.
func (m *Manager) ObserveElements(observer ElementObserver) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.elementObservers = append(m.elementObservers, observer)
}

// ObserveCursors registers a callback invoked with the presence map
// (excluding the local user) whenever any entry changes.
func (m *Manager) ObserveCursors(observer CursorObserver) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cursorObservers = append(m.cursorObservers, observer)
}

// ReceiveUpdate applies one replicated update payload from the session. A
// payload that cannot be decoded is discarded; re-sync via the rejoin
// snapshot recovers the lost operation.
func (m *Manager) ReceiveUpdate(payload []byte) {
	patch, err := m.codec.Decode(payload)
	if err != nil {
		m.logger.Warn("discarding undecodable update", zap.Error(err))
		return
	}

	m.mutex.Lock()
	elementsChanged, presenceChanged := patch.Apply(m.doc)
	m.mutex.Unlock()

	if elementsChanged {
		m.notifyElements()
	}
	if presenceChanged {
		m.notifyCursors()
	}
}

// ReceiveSnapshot applies the retained updates delivered on (re)join.
// Applying them is safe at any time: every operation is idempotent, so a
// snapshot overlapping already-seen updates converges to the same state.
func (m *Manager) ReceiveSnapshot(payloads [][]byte) {
	var elementsChanged, presenceChanged bool

	m.mutex.Lock()
	for _, payload := range payloads {
		patch, err := m.codec.Decode(payload)
		if err != nil {
			m.logger.Warn("discarding undecodable snapshot entry", zap.Error(err))
			continue
		}
		elements, presence := patch.Apply(m.doc)
		elementsChanged = elementsChanged || elements
		presenceChanged = presenceChanged || presence
	}
	m.mutex.Unlock()

	if elementsChanged {
		m.notifyElements()
	}
	if presenceChanged {
		m.notifyCursors()
	}
}

// Close releases observers and then the transport, in that order, so no
// callback fires against a torn-down consumer. Close is idempotent.
func (m *Manager) Close() error {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return nil
	}
	m.closed = true
	m.elementObservers = nil
	m.cursorObservers = nil
	transport := m.transport
	m.mutex.Unlock()

	if transport != nil {
		return transport.Close()
	}
	return nil
}

// encodePatch builds and encodes a single-operation patch with attribution
// metadata. Called with the mutex held.
func (m *Manager) encodePatch(ts common.LogicalTimestamp, op crdtpatch.Operation) []byte {
	patch := crdtpatch.NewPatch(ts)
	patch.SetMetadata(map[string]interface{}{
		"userId":   m.user.ID,
		"userName": m.user.Name,
	})
	patch.AddOperation(op)

	payload, err := m.codec.Encode(patch)
	if err != nil {
		// Only reachable with a value that cannot marshal; the local
		// replica already applied the operation, so log and carry on.
		m.logger.Error("failed to encode patch", zap.Error(err))
		return nil
	}
	return payload
}

// send hands a payload to the transport. Local state is already updated;
// transport failures are logged, never surfaced to the editing user.
func (m *Manager) send(channel relay.Channel, payload []byte) {
	if payload == nil {
		return
	}

	m.mutex.Lock()
	transport := m.transport
	closed := m.closed
	m.mutex.Unlock()

	if closed || transport == nil {
		return
	}
	if err := transport.Send(channel, payload); err != nil {
		m.logger.Warn("failed to queue update", zap.Error(err))
	}
}

// notifyElements invokes element observers with a fresh snapshot.
func (m *Manager) notifyElements() {
	m.mutex.Lock()
	observers := make([]ElementObserver, len(m.elementObservers))
	copy(observers, m.elementObservers)
	elements := m.doc.Elements()
	m.mutex.Unlock()

	for _, observer := range observers {
		observer(elements)
	}
}

// notifyCursors invokes cursor observers with a fresh presence snapshot.
func (m *Manager) notifyCursors() {
	m.mutex.Lock()
	observers := make([]CursorObserver, len(m.cursorObservers))
	copy(observers, m.cursorObservers)
	cursors := m.doc.Cursors(m.user.ID)
	m.mutex.Unlock()

	for _, observer := range observers {
		observer(cursors)
	}
}
