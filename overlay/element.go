// Package overlay defines the annotation content model: text and image
// elements positioned on PDF pages, cursor presence data, and the partial
// update type used to merge field edits into an element.
package overlay

import (
	"encoding/json"

	"github.com/google/uuid"

	"pdfcollab/common"
)

// ElementType represents the variant of an overlay element.
type ElementType string

const (
	// ElementTypeText is a positioned text annotation.
	ElementTypeText ElementType = "text"
	// ElementTypeImage is a positioned image annotation.
	ElementTypeImage ElementType = "image"
)

// Element is an overlay annotation placed on a document page. The two
// variants, TextElement and ImageElement, share identity, page binding and
// creator attribution. An element belongs to one page for its lifetime.
type Element interface {
	// GetID returns the globally unique element id.
	GetID() string

	// GetType returns the element variant.
	GetType() ElementType

	// GetPage returns the zero-based page index the element is bound to.
	GetPage() int

	// GetCreator returns the id and display name of the user who created
	// the element. Attribution is set once at creation and never changes
	// on subsequent edits.
	GetCreator() (userID, userName string)

	// WithCreator returns a copy with creator attribution set, unless the
	// element already carries attribution.
	WithCreator(userID, userName string) Element

	// Merge returns a copy with the update's set fields applied over the
	// element's current values. The page binding is never part of an
	// update.
	Merge(update ElementUpdate) Element
}

// TextElement is a text annotation.
type TextElement struct {
	ID         string      `json:"id"`
	Type       ElementType `json:"type"`
	Content    string      `json:"content"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	FontSize   float64     `json:"fontSize"`
	FontFamily string      `json:"fontFamily"`
	Color      string      `json:"color"`
	Bold       bool        `json:"bold"`
	Italic     bool        `json:"italic"`
	PageIndex  int         `json:"pageIndex"`
	UserID     string      `json:"userId,omitempty"`
	UserName   string      `json:"userName,omitempty"`
}

// ImageElement is an image annotation. Src holds the image reference as a
// data URL; the core never decodes it.
type ImageElement struct {
	ID        string      `json:"id"`
	Type      ElementType `json:"type"`
	Src       string      `json:"src"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	Width     float64     `json:"width"`
	Height    float64     `json:"height"`
	PageIndex int         `json:"pageIndex"`
	UserID    string      `json:"userId,omitempty"`
	UserName  string      `json:"userName,omitempty"`
}

// NewTextElement creates a text element at the given position with the
// editor's placement defaults and a fresh random id.
func NewTextElement(content string, x, y float64, pageIndex int) TextElement {
	return TextElement{
		ID:         uuid.NewString(),
		Type:       ElementTypeText,
		Content:    content,
		X:          x,
		Y:          y,
		Width:      200,
		Height:     30,
		FontSize:   14,
		FontFamily: "Helvetica",
		Color:      "#000000",
		PageIndex:  pageIndex,
	}
}

// NewImageElement creates an image element with a fresh random id.
func NewImageElement(src string, x, y, width, height float64, pageIndex int) ImageElement {
	return ImageElement{
		ID:        uuid.NewString(),
		Type:      ElementTypeImage,
		Src:       src,
		X:         x,
		Y:         y,
		Width:     width,
		Height:    height,
		PageIndex: pageIndex,
	}
}

// GetID returns the element id.
func (e TextElement) GetID() string { return e.ID }

// GetType returns ElementTypeText.
func (e TextElement) GetType() ElementType { return ElementTypeText }

// GetPage returns the page index.
func (e TextElement) GetPage() int { return e.PageIndex }

// GetCreator returns the creator attribution.
func (e TextElement) GetCreator() (string, string) { return e.UserID, e.UserName }

// WithCreator returns a copy with creator attribution set if not already set.
func (e TextElement) WithCreator(userID, userName string) Element {
	if e.UserID == "" {
		e.UserID = userID
		e.UserName = userName
	}
	return e
}

// Merge returns a copy with the update's set fields applied.
func (e TextElement) Merge(update ElementUpdate) Element {
	if update.Content != nil {
		e.Content = *update.Content
	}
	if update.X != nil {
		e.X = *update.X
	}
	if update.Y != nil {
		e.Y = *update.Y
	}
	if update.Width != nil {
		e.Width = *update.Width
	}
	if update.Height != nil {
		e.Height = *update.Height
	}
	if update.FontSize != nil {
		e.FontSize = *update.FontSize
	}
	if update.FontFamily != nil {
		e.FontFamily = *update.FontFamily
	}
	if update.Color != nil {
		e.Color = *update.Color
	}
	if update.Bold != nil {
		e.Bold = *update.Bold
	}
	if update.Italic != nil {
		e.Italic = *update.Italic
	}
	return e
}

// GetID returns the element id.
func (e ImageElement) GetID() string { return e.ID }

// GetType returns ElementTypeImage.
func (e ImageElement) GetType() ElementType { return ElementTypeImage }

// GetPage returns the page index.
func (e ImageElement) GetPage() int { return e.PageIndex }

// GetCreator returns the creator attribution.
func (e ImageElement) GetCreator() (string, string) { return e.UserID, e.UserName }

// WithCreator returns a copy with creator attribution set if not already set.
func (e ImageElement) WithCreator(userID, userName string) Element {
	if e.UserID == "" {
		e.UserID = userID
		e.UserName = userName
	}
	return e
}

// Merge returns a copy with the update's set fields applied.
func (e ImageElement) Merge(update ElementUpdate) Element {
	if update.Src != nil {
		e.Src = *update.Src
	}
	if update.X != nil {
		e.X = *update.X
	}
	if update.Y != nil {
		e.Y = *update.Y
	}
	if update.Width != nil {
		e.Width = *update.Width
	}
	if update.Height != nil {
		e.Height = *update.Height
	}
	return e
}

// UnmarshalElement decodes an element from its JSON representation,
// dispatching on the "type" field.
func UnmarshalElement(data []byte) (Element, error) {
	var probe struct {
		Type ElementType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case ElementTypeText:
		var el TextElement
		if err := json.Unmarshal(data, &el); err != nil {
			return nil, err
		}
		return el, nil
	case ElementTypeImage:
		var el ImageElement
		if err := json.Unmarshal(data, &el); err != nil {
			return nil, err
		}
		return el, nil
	default:
		return nil, common.ErrInvalidElementType{Type: string(probe.Type)}
	}
}
