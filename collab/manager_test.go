package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfcollab/common"
	"pdfcollab/crdtpatch"
	"pdfcollab/overlay"
	"pdfcollab/relay"
	"pdfcollab/session"
)

// pipeTransport delivers every payload straight into the peer replica,
// standing in for the relay round trip.
type pipeTransport struct {
	peer   *Manager
	closed int
}

func (t *pipeTransport) Send(_ relay.Channel, payload []byte) error {
	if t.peer != nil {
		t.peer.ReceiveUpdate(payload)
	}
	return nil
}

func (t *pipeTransport) Close() error {
	t.closed++
	return nil
}

// connectedPair returns two managers whose transports feed each other.
func connectedPair() (*Manager, *Manager) {
	transportX := &pipeTransport{}
	transportY := &pipeTransport{}
	x := NewManager(session.User{ID: "ux", Name: "Xena", Color: "#3B82F6"}, transportX, nil)
	y := NewManager(session.User{ID: "uy", Name: "Yuri", Color: "#EF4444"}, transportY, nil)
	transportX.peer = y
	transportY.peer = x
	return x, y
}

func TestAddElementPropagates(t *testing.T) {
	x, y := connectedPair()

	el := overlay.NewTextElement("Hi", 10, 10, 0)
	el.ID = "e1"
	x.AddElement(el)

	// The issuing replica applied locally
	elements := x.Elements()
	require.Len(t, elements, 1)
	assert.Equal(t, "e1", elements[0].GetID())

	// Creator attribution was stamped before replication
	userID, userName := elements[0].GetCreator()
	assert.Equal(t, "ux", userID)
	assert.Equal(t, "Xena", userName)

	// The peer replica converged to the same element
	peerElements := y.Elements()
	require.Len(t, peerElements, 1)
	assert.Equal(t, "e1", peerElements[0].GetID())
	assert.Equal(t, "Hi", peerElements[0].(overlay.TextElement).Content)
}

func TestRemoveConvergesBothReplicas(t *testing.T) {
	x, y := connectedPair()

	el := overlay.NewTextElement("Hi", 10, 10, 0)
	el.ID = "e1"
	x.AddElement(el)
	require.Len(t, y.Elements(), 1)

	// The peer removes the element the issuer created
	y.RemoveElement("e1")

	assert.Empty(t, x.Elements())
	assert.Empty(t, y.Elements())
}

func TestUpdateUnknownElementIsNoOp(t *testing.T) {
	x, y := connectedPair()

	x.UpdateElement("ghost", overlay.ElementUpdate{Content: overlay.Ptr("boo")})
	assert.Empty(t, x.Elements())
	assert.Empty(t, y.Elements())
}

func TestUpdateMergesAndReplicatesWholeValue(t *testing.T) {
	x, y := connectedPair()

	el := overlay.NewTextElement("before", 10, 10, 0)
	el.ID = "e1"
	x.AddElement(el)

	y.UpdateElement("e1", overlay.ElementUpdate{Content: overlay.Ptr("after"), Bold: overlay.Ptr(true)})

	for _, m := range []*Manager{x, y} {
		elements := m.Elements()
		require.Len(t, elements, 1)
		text := elements[0].(overlay.TextElement)
		assert.Equal(t, "after", text.Content)
		assert.True(t, text.Bold)
		// Merged over the existing value, not a blank one
		assert.Equal(t, 10.0, text.X)
	}
}

func TestConcurrentUpdateLWW(t *testing.T) {
	// Two detached replicas receive the same updates in opposite orders;
	// the higher clock must win on both.
	x := NewManager(session.User{ID: "ux"}, nil, nil)
	y := NewManager(session.User{ID: "uy"}, nil, nil)

	codec := &crdtpatch.JSONEncoderDecoder{}
	sidI := common.NewSessionID()
	sidA := common.NewSessionID()
	sidB := common.NewSessionID()

	encode := func(op crdtpatch.Operation) []byte {
		patch := crdtpatch.NewPatch(op.ID())
		patch.AddOperation(op)
		data, err := codec.Encode(patch)
		require.NoError(t, err)
		return data
	}

	el := overlay.NewTextElement("Hi", 10, 10, 0)
	el.ID = "e1"
	insert := encode(&crdtpatch.InsertOperation{
		OperationID: common.LogicalTimestamp{SID: sidI, Counter: 1},
		Element:     el,
	})

	elA := el
	elA.Content = "A"
	updateA := encode(&crdtpatch.UpdateOperation{
		OperationID: common.LogicalTimestamp{SID: sidA, Counter: 5},
		Element:     elA,
	})

	elB := el
	elB.Content = "B"
	updateB := encode(&crdtpatch.UpdateOperation{
		OperationID: common.LogicalTimestamp{SID: sidB, Counter: 6},
		Element:     elB,
	})

	x.ReceiveUpdate(insert)
	x.ReceiveUpdate(updateA)
	x.ReceiveUpdate(updateB)

	y.ReceiveUpdate(insert)
	y.ReceiveUpdate(updateB)
	y.ReceiveUpdate(updateA)

	for _, m := range []*Manager{x, y} {
		elements := m.Elements()
		require.Len(t, elements, 1)
		assert.Equal(t, "B", elements[0].(overlay.TextElement).Content)
	}
}

func TestCursorNoSelfEcho(t *testing.T) {
	x, y := connectedPair()

	var xSaw []map[string]overlay.Cursor
	var ySaw []map[string]overlay.Cursor
	x.ObserveCursors(func(cursors map[string]overlay.Cursor) { xSaw = append(xSaw, cursors) })
	y.ObserveCursors(func(cursors map[string]overlay.Cursor) { ySaw = append(ySaw, cursors) })

	x.UpdateCursor(42, 17)

	// The peer sees the cursor with identity and color attached
	require.Len(t, ySaw, 1)
	cursor, ok := ySaw[0]["ux"]
	require.True(t, ok)
	assert.Equal(t, "Xena", cursor.UserName)
	assert.Equal(t, 42.0, cursor.X)
	assert.Equal(t, 17.0, cursor.Y)
	assert.Equal(t, "#3B82F6", cursor.Color)

	// The issuer never observes its own cursor
	assert.Empty(t, xSaw)
	assert.Empty(t, x.Cursors())
}

func TestCursorReplacesPerUser(t *testing.T) {
	x, y := connectedPair()

	x.UpdateCursor(1, 1)
	x.UpdateCursor(2, 2)

	cursors := y.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, 2.0, cursors["ux"].X)
}

func TestElementObserverGetsFullCollection(t *testing.T) {
	x, _ := connectedPair()

	var snapshots [][]overlay.Element
	x.ObserveElements(func(elements []overlay.Element) { snapshots = append(snapshots, elements) })

	first := overlay.NewTextElement("one", 0, 0, 0)
	second := overlay.NewTextElement("two", 0, 0, 0)
	x.AddElement(first)
	x.AddElement(second)

	require.Len(t, snapshots, 2)
	assert.Len(t, snapshots[0], 1)
	assert.Len(t, snapshots[1], 2)
}

func TestMalformedUpdateDiscarded(t *testing.T) {
	x, _ := connectedPair()

	el := overlay.NewTextElement("Hi", 0, 0, 0)
	el.ID = "e1"
	x.AddElement(el)

	x.ReceiveUpdate([]byte("not a patch"))
	x.ReceiveUpdate(nil)

	// State is untouched and the replica keeps working
	assert.Len(t, x.Elements(), 1)
}

func TestSnapshotIdempotent(t *testing.T) {
	x, y := connectedPair()

	el := overlay.NewTextElement("Hi", 0, 0, 0)
	el.ID = "e1"
	x.AddElement(el)

	// Rebuild the payload y already received and replay it as a snapshot
	codec := &crdtpatch.JSONEncoderDecoder{}
	elements := y.Elements()
	require.Len(t, elements, 1)

	ts := common.LogicalTimestamp{SID: common.NewSessionID(), Counter: 1}
	patch := crdtpatch.NewPatch(ts)
	patch.AddOperation(&crdtpatch.InsertOperation{OperationID: ts, Element: elements[0]})
	payload, err := codec.Encode(patch)
	require.NoError(t, err)

	y.ReceiveSnapshot([][]byte{payload, []byte("corrupt entry"), payload})

	// Still exactly one element
	assert.Len(t, y.Elements(), 1)
}

func TestCloseIdempotentAndReleasesObservers(t *testing.T) {
	transport := &pipeTransport{}
	m := NewManager(session.User{ID: "ux"}, transport, nil)

	fired := 0
	m.ObserveElements(func([]overlay.Element) { fired++ })

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, transport.closed)

	// No callback fires against a torn-down consumer
	m.ReceiveUpdate([]byte(`{"id":{"sid":"00000000-0000-0000-0000-000000000000","cnt":1},"ops":[]}`))
	assert.Equal(t, 0, fired)
}
