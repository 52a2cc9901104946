package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveDocumentID(t *testing.T) {
	id := DeriveDocumentID("report.pdf", 52318)
	assert.Equal(t, "pdf-report.pdf-52318", id)

	// Same file, same session
	assert.Equal(t, id, DeriveDocumentID("report.pdf", 52318))

	// Different size means a different session
	assert.NotEqual(t, id, DeriveDocumentID("report.pdf", 52319))
}

func TestColorForDeterministic(t *testing.T) {
	color := ColorFor("user-1")
	assert.Equal(t, color, ColorFor("user-1"))
	assert.Contains(t, Palette, color)
}

func TestNewUser(t *testing.T) {
	user := NewUser("Alice", "alice@example.com")

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, ColorFor(user.ID), user.Color)

	// Ids are unique per user
	other := NewUser("Alice", "alice@example.com")
	assert.NotEqual(t, user.ID, other.ID)
}
