package crdtpatch

import (
	"encoding/base64"
	"encoding/json"

	"pdfcollab/common"
)

// EncodingFormat represents the format used to encode patches on the wire.
type EncodingFormat string

const (
	// EncodingFormatJSON represents JSON encoding.
	EncodingFormatJSON EncodingFormat = "json"
	// EncodingFormatBase64 represents base64-wrapped JSON encoding.
	EncodingFormatBase64 EncodingFormat = "base64"
)

// Encoder encodes a patch into a byte array.
type Encoder interface {
	// Encode encodes a patch into a byte array.
	Encode(patch *Patch) ([]byte, error)
}

// Decoder decodes a byte array into a patch.
type Decoder interface {
	// Decode decodes a byte array into a patch.
	Decode(data []byte) (*Patch, error)
}

// EncoderDecoder combines the Encoder and Decoder interfaces.
type EncoderDecoder interface {
	Encoder
	Decoder
}

// JSONEncoderDecoder implements the EncoderDecoder interface using JSON encoding.
type JSONEncoderDecoder struct{}

// Encode encodes a patch into a JSON byte array.
func (ed *JSONEncoderDecoder) Encode(patch *Patch) ([]byte, error) {
	return json.Marshal(patch)
}

// Decode decodes a JSON byte array into a patch.
func (ed *JSONEncoderDecoder) Decode(data []byte) (*Patch, error) {
	var patch Patch
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, err
	}
	return &patch, nil
}

// Base64EncoderDecoder implements the EncoderDecoder interface by base64
// wrapping an underlying encoding.
type Base64EncoderDecoder struct {
	// underlying is applied before/after the base64 layer.
	underlying EncoderDecoder
}

// NewBase64EncoderDecoder creates a Base64EncoderDecoder over the given
// underlying encoder/decoder, defaulting to JSON.
func NewBase64EncoderDecoder(underlying EncoderDecoder) *Base64EncoderDecoder {
	if underlying == nil {
		underlying = &JSONEncoderDecoder{}
	}
	return &Base64EncoderDecoder{underlying: underlying}
}

// Encode encodes a patch into a base64 byte array.
func (ed *Base64EncoderDecoder) Encode(patch *Patch) ([]byte, error) {
	data, err := ed.underlying.Encode(patch)
	if err != nil {
		return nil, err
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(encoded, data)
	return encoded, nil
}

// Decode decodes a base64 byte array into a patch.
func (ed *Base64EncoderDecoder) Decode(data []byte) (*Patch, error) {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(decoded, data)
	if err != nil {
		return nil, err
	}
	return ed.underlying.Decode(decoded[:n])
}

// GetEncoderDecoder returns an EncoderDecoder for the specified format.
func GetEncoderDecoder(format EncodingFormat) (EncoderDecoder, error) {
	switch format {
	case EncodingFormatJSON:
		return &JSONEncoderDecoder{}, nil
	case EncodingFormatBase64:
		return NewBase64EncoderDecoder(&JSONEncoderDecoder{}), nil
	default:
		return nil, common.ErrInvalidEncoding{Format: string(format)}
	}
}
