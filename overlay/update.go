package overlay

// ElementUpdate carries a partial edit of an element. Nil fields are left
// untouched by Merge. The page index is deliberately absent: elements do
// not migrate between pages.
type ElementUpdate struct {
	// Shared positional fields.
	X      *float64
	Y      *float64
	Width  *float64
	Height *float64

	// Text fields.
	Content    *string
	FontSize   *float64
	FontFamily *string
	Color      *string
	Bold       *bool
	Italic     *bool

	// Image fields.
	Src *string
}

// IsEmpty reports whether the update sets no fields.
func (u ElementUpdate) IsEmpty() bool {
	return u == ElementUpdate{}
}

// Ptr returns a pointer to v, for building ElementUpdate literals.
func Ptr[T any](v T) *T {
	return &v
}
