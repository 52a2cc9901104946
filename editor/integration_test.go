package editor

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfcollab/collab"
	"pdfcollab/overlay"
	"pdfcollab/relay"
	"pdfcollab/session"
)

// startRelay runs a relay instance behind an httptest server and returns
// its ws:// base URL.
func startRelay(t *testing.T) string {
	t.Helper()

	hub, err := relay.NewHub(nil, nil, nil)
	require.NoError(t, err)

	server := httptest.NewServer(relay.NewRouter(hub))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// joinedEditor creates an editor for the user and joins the shared session
// for doc.pdf.
func joinedEditor(t *testing.T, relayURL string, user session.User) *Editor {
	t.Helper()

	e := NewEditor(user, nil)
	t.Cleanup(func() { e.Close() })

	options := collab.DefaultProviderOptions()
	options.MinBackoff = 10 * time.Millisecond
	options.MaxBackoff = 50 * time.Millisecond
	require.NoError(t, e.StartCollaboration(context.Background(), relayURL, "doc.pdf", 1024, options))
	return e
}

func TestTwoEditorsConvergeThroughRelay(t *testing.T) {
	relayURL := startRelay(t)

	alice := joinedEditor(t, relayURL, session.User{ID: "u-alice", Name: "Alice", Color: "#3B82F6"})
	bob := joinedEditor(t, relayURL, session.User{ID: "u-bob", Name: "Bob", Color: "#EF4444"})

	el := overlay.NewTextElement("Hi", 100, 200, 0)
	el.ID = "e1"
	alice.AddElement(el)

	// Bob converges to Alice's element
	require.Eventually(t, func() bool {
		elements := bob.Elements()
		return len(elements) == 1 && elements[0].GetID() == "e1"
	}, 5*time.Second, 20*time.Millisecond)

	got := bob.Elements()[0].(overlay.TextElement)
	assert.Equal(t, "Hi", got.Content)
	userID, userName := got.GetCreator()
	assert.Equal(t, "u-alice", userID)
	assert.Equal(t, "Alice", userName)

	// Bob removes it; both sides end empty
	bob.RemoveElement("e1")
	require.Eventually(t, func() bool {
		return len(alice.Elements()) == 0 && len(bob.Elements()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCursorPropagationExcludesSelf(t *testing.T) {
	relayURL := startRelay(t)

	alice := joinedEditor(t, relayURL, session.User{ID: "u-alice", Name: "Alice", Color: "#3B82F6"})
	bob := joinedEditor(t, relayURL, session.User{ID: "u-bob", Name: "Bob", Color: "#EF4444"})

	// Make sure both replicas are subscribed before the presence write by
	// waiting for a content element to round-trip.
	marker := overlay.NewTextElement("marker", 0, 0, 0)
	alice.AddElement(marker)
	require.Eventually(t, func() bool {
		return len(bob.Elements()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	alice.UpdateCursor(320, 240)

	require.Eventually(t, func() bool {
		cursor, ok := bob.Cursors()["u-alice"]
		return ok && cursor.X == 320 && cursor.Y == 240 && cursor.Color == "#3B82F6"
	}, 5*time.Second, 20*time.Millisecond)

	// Alice never sees her own cursor
	assert.Empty(t, alice.Cursors())
}

func TestLateJoinerConvergesFromSnapshot(t *testing.T) {
	relayURL := startRelay(t)

	alice := joinedEditor(t, relayURL, session.User{ID: "u-alice", Name: "Alice"})

	first := overlay.NewTextElement("first", 1, 1, 0)
	first.ID = "e1"
	second := overlay.NewTextElement("second", 2, 2, 1)
	second.ID = "e2"
	alice.AddElement(first)
	alice.AddElement(second)
	alice.UpdateElement("e1", overlay.ElementUpdate{Content: overlay.Ptr("first edited")})
	alice.RemoveElement("e2")

	// A joiner connecting after the fact converges from the retained
	// updates alone.
	carol := joinedEditor(t, relayURL, session.User{ID: "u-carol", Name: "Carol"})

	require.Eventually(t, func() bool {
		elements := carol.Elements()
		return len(elements) == 1 &&
			elements[0].GetID() == "e1" &&
			elements[0].(overlay.TextElement).Content == "first edited"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDifferentFilesDoNotShareSessions(t *testing.T) {
	relayURL := startRelay(t)

	alice := joinedEditor(t, relayURL, session.User{ID: "u-alice", Name: "Alice"})

	// Same name, different size: a different document identity
	other := NewEditor(session.User{ID: "u-dave", Name: "Dave"}, nil)
	t.Cleanup(func() { other.Close() })
	require.NoError(t, other.StartCollaboration(context.Background(), relayURL, "doc.pdf", 2048, nil))

	alice.AddElement(overlay.NewTextElement("private", 0, 0, 0))

	require.Eventually(t, func() bool {
		return len(alice.Elements()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, other.Elements())
}
