// Package crdtpatch defines the replication update format exchanged
// between replicas: a Patch groups one or more operations under the id of
// the first operation, and the Encoder/Decoder pair turns patches into the
// opaque payloads the relay forwards.
package crdtpatch

import (
	"encoding/json"

	"github.com/pkg/errors"

	"pdfcollab/common"
	"pdfcollab/crdt"
)

// Patch is one replication update.
type Patch struct {
	// id is the ID of the patch.
	id common.LogicalTimestamp

	// metadata is optional custom metadata (attribution, tracing).
	metadata map[string]interface{}

	// operations is the list of operations in the patch.
	operations []Operation
}

// NewPatch creates a new empty patch with the given id.
func NewPatch(id common.LogicalTimestamp) *Patch {
	return &Patch{
		id:         id,
		metadata:   make(map[string]interface{}),
		operations: make([]Operation, 0),
	}
}

// ID returns the ID of the patch.
func (p *Patch) ID() common.LogicalTimestamp {
	return p.id
}

// Metadata returns the metadata of the patch.
func (p *Patch) Metadata() map[string]interface{} {
	return p.metadata
}

// SetMetadata sets the metadata of the patch.
func (p *Patch) SetMetadata(metadata map[string]interface{}) {
	p.metadata = metadata
}

// Operations returns the operations in the patch.
func (p *Patch) Operations() []Operation {
	return p.operations
}

// AddOperation adds an operation to the patch.
func (p *Patch) AddOperation(op Operation) {
	p.operations = append(p.operations, op)
}

// Apply applies every operation in the patch to the replica and reports
// whether the element collection and the presence map changed.
func (p *Patch) Apply(doc *crdt.Document) (elementsChanged, presenceChanged bool) {
	for _, op := range p.operations {
		elements, presence := op.Apply(doc)
		elementsChanged = elementsChanged || elements
		presenceChanged = presenceChanged || presence
	}
	return elementsChanged, presenceChanged
}

// MarshalJSON implements the json.Marshaler interface.
func (p *Patch) MarshalJSON() ([]byte, error) {
	type verbosePatch struct {
		ID       common.LogicalTimestamp `json:"id"`
		Metadata map[string]interface{}  `json:"meta,omitempty"`
		Ops      []json.RawMessage       `json:"ops"`
	}

	ops := make([]json.RawMessage, len(p.operations))
	for i, op := range p.operations {
		opJSON, err := json.Marshal(op)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal operation")
		}
		ops[i] = opJSON
	}

	return json.Marshal(verbosePatch{
		ID:       p.id,
		Metadata: p.metadata,
		Ops:      ops,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       common.LogicalTimestamp `json:"id"`
		Metadata map[string]interface{}  `json:"meta,omitempty"`
		Ops      []json.RawMessage       `json:"ops"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	operations := make([]Operation, len(raw.Ops))
	for i, opJSON := range raw.Ops {
		op, err := UnmarshalOperation(opJSON)
		if err != nil {
			return errors.Wrap(err, "failed to unmarshal operation")
		}
		operations[i] = op
	}

	p.id = raw.ID
	p.metadata = raw.Metadata
	if p.metadata == nil {
		p.metadata = make(map[string]interface{})
	}
	p.operations = operations
	return nil
}
