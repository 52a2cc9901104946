// Package session binds user and document identity to the collaboration
// core: a stable per-user identity with an assigned color, and the
// deterministic document-session identifier that groups co-editors of the
// same file.
package session

import (
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
)

// User is a stable per-session identity. The id, name and color are
// attached to every change for attribution and cursor rendering; they do
// not change for the lifetime of the session.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Color string `json:"color"`
}

// Palette is the fixed set of colors assigned to users. Colors are not
// globally unique; two users may share one.
var Palette = []string{
	"#3B82F6", // blue
	"#EF4444", // red
	"#10B981", // green
	"#F59E0B", // amber
	"#8B5CF6", // violet
	"#EC4899", // pink
	"#14B8A6", // teal
	"#F97316", // orange
}

// NewUser creates a user identity with a fresh random id and a palette
// color derived from that id.
func NewUser(name, email string) User {
	id := uuid.NewString()
	return User{
		ID:    id,
		Name:  name,
		Email: email,
		Color: ColorFor(id),
	}
}

// ColorFor deterministically picks a palette color for a user id, so the
// same user gets the same color at every replica.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// DeriveDocumentID derives the collaboration session identifier for a
// loaded file from its name and byte size. Two users who load the same
// file join the same session; a collision between different files with
// identical name and size is an accepted limitation of this scheme.
func DeriveDocumentID(fileName string, fileSize int64) string {
	return fmt.Sprintf("pdf-%s-%d", fileName, fileSize)
}
