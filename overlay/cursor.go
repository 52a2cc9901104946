package overlay

// Cursor is one user's ephemeral pointer position in document coordinate
// space (pre-zoom). Cursors are keyed by user id in the presence map and
// are never part of document content or export.
type Cursor struct {
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Color    string  `json:"color"`
}
