// Package editor is the projection layer between the application and the
// collaboration core. It exposes one editing surface — add, update,
// remove, cursor — that routes through the shared document store when a
// collaboration session is live and falls back to a purely local,
// non-replicated store when it is not. The two modes are outwardly
// identical apart from replication.
package editor

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"pdfcollab/collab"
	"pdfcollab/overlay"
	"pdfcollab/session"
)

// Editor projects the shared document state for one open document.
type Editor struct {
	// user is the local identity.
	user session.User

	// manager is the live collaboration endpoint; nil until a session is
	// started, in which case local holds the state.
	manager *collab.Manager

	// local is the fallback element store used while no session is live.
	local []overlay.Element

	// onElements and onCursors are the application's render callbacks.
	onElements []collab.ElementObserver
	onCursors  []collab.CursorObserver

	// mutex serializes editor state transitions.
	mutex sync.Mutex

	// logger is the structured logger.
	logger *zap.Logger

	// closed indicates the editor has been torn down.
	closed bool
}

// NewEditor creates an editor in local (non-replicated) mode.
func NewEditor(user session.User, logger *zap.Logger) *Editor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{
		user:   user,
		logger: logger,
	}
}

// StartCollaboration joins the collaboration session for the loaded file,
// deriving the session id from the file's name and byte size so co-editors
// of the same file meet in the same session. Elements created before the
// session started are pushed into the shared store so they replicate too.
// Starting twice is an error.
func (e *Editor) StartCollaboration(ctx context.Context, serverURL, fileName string, fileSize int64, options *collab.ProviderOptions) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return fmt.Errorf("editor is closed")
	}
	if e.manager != nil {
		return fmt.Errorf("collaboration already active")
	}

	documentID := session.DeriveDocumentID(fileName, fileSize)
	manager, err := collab.Connect(ctx, serverURL, documentID, e.user, options, e.logger)
	if err != nil {
		return fmt.Errorf("failed to join session %s: %w", documentID, err)
	}

	manager.ObserveElements(func(elements []overlay.Element) {
		e.notifyElements(elements)
	})
	manager.ObserveCursors(func(cursors map[string]overlay.Cursor) {
		e.notifyCursors(cursors)
	})

	pending := e.local
	e.local = nil
	e.manager = manager

	e.logger.Info("collaboration started",
		zap.String("document_id", documentID),
		zap.String("user_id", e.user.ID),
		zap.Int("migrated_elements", len(pending)))

	// Replicate pre-session elements. AddElement preserves ids and
	// existing attribution.
	e.mutex.Unlock()
	for _, el := range pending {
		manager.AddElement(el)
	}
	e.mutex.Lock()

	return nil
}

// Collaborating reports whether a session is live.
func (e *Editor) Collaborating() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.manager != nil
}

// AddElement adds an element to the document.
func (e *Editor) AddElement(el overlay.Element) {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return
	}
	if m := e.manager; m != nil {
		e.mutex.Unlock()
		m.AddElement(el)
		return
	}

	e.local = append(e.local, el.WithCreator(e.user.ID, e.user.Name))
	elements := e.snapshotLocked()
	e.mutex.Unlock()

	e.notifyElements(elements)
}

// UpdateElement merges the partial fields into the element. Unknown ids
// are a no-op.
func (e *Editor) UpdateElement(id string, update overlay.ElementUpdate) {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return
	}
	if m := e.manager; m != nil {
		e.mutex.Unlock()
		m.UpdateElement(id, update)
		return
	}

	found := false
	for i, el := range e.local {
		if el.GetID() == id {
			e.local[i] = el.Merge(update)
			found = true
			break
		}
	}
	if !found {
		e.mutex.Unlock()
		return
	}
	elements := e.snapshotLocked()
	e.mutex.Unlock()

	e.notifyElements(elements)
}

// RemoveElement removes the element by id. Unknown ids are a no-op.
func (e *Editor) RemoveElement(id string) {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return
	}
	if m := e.manager; m != nil {
		e.mutex.Unlock()
		m.RemoveElement(id)
		return
	}

	found := false
	for i, el := range e.local {
		if el.GetID() == id {
			e.local = append(e.local[:i], e.local[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		e.mutex.Unlock()
		return
	}
	elements := e.snapshotLocked()
	e.mutex.Unlock()

	e.notifyElements(elements)
}

// UpdateCursor publishes the local cursor position. Without a session
// there is no one to show it to, so it is a no-op.
func (e *Editor) UpdateCursor(x, y float64) {
	e.mutex.Lock()
	m := e.manager
	e.mutex.Unlock()

	if m != nil {
		m.UpdateCursor(x, y)
	}
}

// Elements returns the current ordered element collection.
func (e *Editor) Elements() []overlay.Element {
	e.mutex.Lock()
	if m := e.manager; m != nil {
		e.mutex.Unlock()
		return m.Elements()
	}
	defer e.mutex.Unlock()
	return e.snapshotLocked()
}

// Cursors returns the presence map, excluding the local user. Empty while
// no session is live.
func (e *Editor) Cursors() map[string]overlay.Cursor {
	e.mutex.Lock()
	m := e.manager
	e.mutex.Unlock()

	if m != nil {
		return m.Cursors()
	}
	return map[string]overlay.Cursor{}
}

// ObserveElements registers a render callback for element changes.
func (e *Editor) ObserveElements(observer collab.ElementObserver) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.onElements = append(e.onElements, observer)
}

// ObserveCursors registers a render callback for presence changes.
func (e *Editor) ObserveCursors(observer collab.CursorObserver) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.onCursors = append(e.onCursors, observer)
}

// Close releases observers and the collaboration session. Safe to call
// multiple times.
func (e *Editor) Close() error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return nil
	}
	e.closed = true
	e.onElements = nil
	e.onCursors = nil
	manager := e.manager
	e.manager = nil
	e.mutex.Unlock()

	if manager != nil {
		return manager.Close()
	}
	return nil
}

// snapshotLocked deep-copies the local store for handoff to callbacks.
// Called with the mutex held.
func (e *Editor) snapshotLocked() []overlay.Element {
	elements := make([]overlay.Element, 0, len(e.local))
	if err := copier.Copy(&elements, &e.local); err != nil {
		e.logger.Error("failed to copy element snapshot", zap.Error(err))
		return append(elements, e.local...)
	}
	return elements
}

// notifyElements fans an element snapshot out to the editor's callbacks.
func (e *Editor) notifyElements(elements []overlay.Element) {
	e.mutex.Lock()
	observers := make([]collab.ElementObserver, len(e.onElements))
	copy(observers, e.onElements)
	e.mutex.Unlock()

	for _, observer := range observers {
		observer(elements)
	}
}

// notifyCursors fans a presence snapshot out to the editor's callbacks.
func (e *Editor) notifyCursors(cursors map[string]overlay.Cursor) {
	e.mutex.Lock()
	observers := make([]collab.CursorObserver, len(e.onCursors))
	copy(observers, e.onCursors)
	e.mutex.Unlock()

	for _, observer := range observers {
		observer(cursors)
	}
}
