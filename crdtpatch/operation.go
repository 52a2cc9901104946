package crdtpatch

import (
	"encoding/json"

	"pdfcollab/common"
	"pdfcollab/crdt"
	"pdfcollab/overlay"
)

// OperationType represents the type of a replication operation.
type OperationType string

const (
	// OperationTypeInsert inserts a new element into the collection.
	OperationTypeInsert OperationType = "ins"
	// OperationTypeUpdate replaces an element's whole value.
	OperationTypeUpdate OperationType = "upd"
	// OperationTypeRemove tombstones an element.
	OperationTypeRemove OperationType = "del"
	// OperationTypeCursor sets a user's cursor in the presence map.
	OperationTypeCursor OperationType = "cur"
)

// Operation is a single replicated mutation. Applying an operation to a
// replica is commutative with and idempotent under re-delivery; the return
// values report whether the element collection and the presence map
// changed.
type Operation interface {
	// OpType returns the operation type.
	OpType() OperationType

	// ID returns the operation's logical timestamp.
	ID() common.LogicalTimestamp

	// Apply applies the operation to the replica.
	Apply(doc *crdt.Document) (elementsChanged, presenceChanged bool)
}

// InsertOperation inserts a fully-formed element.
type InsertOperation struct {
	// OperationID is the operation's logical timestamp. It also becomes
	// the element's insertion tag, which fixes its collection position.
	OperationID common.LogicalTimestamp

	// Element is the element value, with creator attribution already set.
	Element overlay.Element
}

// OpType returns OperationTypeInsert.
func (op *InsertOperation) OpType() OperationType { return OperationTypeInsert }

// ID returns the operation's logical timestamp.
func (op *InsertOperation) ID() common.LogicalTimestamp { return op.OperationID }

// Apply applies the insertion to the replica.
func (op *InsertOperation) Apply(doc *crdt.Document) (bool, bool) {
	return doc.ApplyInsert(op.Element, op.OperationID), false
}

// MarshalJSON implements the json.Marshaler interface.
func (op *InsertOperation) MarshalJSON() ([]byte, error) {
	return marshalElementOp(string(OperationTypeInsert), op.OperationID, op.Element)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (op *InsertOperation) UnmarshalJSON(data []byte) error {
	id, el, err := unmarshalElementOp(data)
	if err != nil {
		return err
	}
	op.OperationID = id
	op.Element = el
	return nil
}

// UpdateOperation replaces an element's whole value. The merged value is
// resolved at the issuing replica; receivers apply it with whole-value
// last-writer-wins, so concurrent updates to different fields of the same
// element do not both survive.
type UpdateOperation struct {
	// OperationID is the operation's logical timestamp (the LWW tag).
	OperationID common.LogicalTimestamp

	// Element is the full replacement value.
	Element overlay.Element
}

// OpType returns OperationTypeUpdate.
func (op *UpdateOperation) OpType() OperationType { return OperationTypeUpdate }

// ID returns the operation's logical timestamp.
func (op *UpdateOperation) ID() common.LogicalTimestamp { return op.OperationID }

// Apply applies the replacement to the replica.
func (op *UpdateOperation) Apply(doc *crdt.Document) (bool, bool) {
	return doc.ApplyUpdate(op.Element, op.OperationID), false
}

// MarshalJSON implements the json.Marshaler interface.
func (op *UpdateOperation) MarshalJSON() ([]byte, error) {
	return marshalElementOp(string(OperationTypeUpdate), op.OperationID, op.Element)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (op *UpdateOperation) UnmarshalJSON(data []byte) error {
	id, el, err := unmarshalElementOp(data)
	if err != nil {
		return err
	}
	op.OperationID = id
	op.Element = el
	return nil
}

// RemoveOperation tombstones an element by id.
type RemoveOperation struct {
	// OperationID is the operation's logical timestamp.
	OperationID common.LogicalTimestamp

	// TargetID is the id of the element being removed.
	TargetID string
}

// OpType returns OperationTypeRemove.
func (op *RemoveOperation) OpType() OperationType { return OperationTypeRemove }

// ID returns the operation's logical timestamp.
func (op *RemoveOperation) ID() common.LogicalTimestamp { return op.OperationID }

// Apply applies the removal to the replica.
func (op *RemoveOperation) Apply(doc *crdt.Document) (bool, bool) {
	return doc.ApplyRemove(op.TargetID, op.OperationID), false
}

// MarshalJSON implements the json.Marshaler interface.
func (op *RemoveOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Op     string                  `json:"op"`
		ID     common.LogicalTimestamp `json:"id"`
		Target string                  `json:"target"`
	}{
		Op:     string(OperationTypeRemove),
		ID:     op.OperationID,
		Target: op.TargetID,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (op *RemoveOperation) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     common.LogicalTimestamp `json:"id"`
		Target string                  `json:"target"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Target == "" {
		return common.ErrInvalidOperation{Message: "del operation missing target"}
	}
	op.OperationID = raw.ID
	op.TargetID = raw.Target
	return nil
}

// CursorOperation sets a user's cursor in the presence map.
type CursorOperation struct {
	// OperationID is the operation's logical timestamp.
	OperationID common.LogicalTimestamp

	// Cursor is the cursor value, keyed by its UserID.
	Cursor overlay.Cursor
}

// OpType returns OperationTypeCursor.
func (op *CursorOperation) OpType() OperationType { return OperationTypeCursor }

// ID returns the operation's logical timestamp.
func (op *CursorOperation) ID() common.LogicalTimestamp { return op.OperationID }

// Apply applies the cursor write to the replica.
func (op *CursorOperation) Apply(doc *crdt.Document) (bool, bool) {
	return false, doc.ApplyCursor(op.Cursor, op.OperationID)
}

// MarshalJSON implements the json.Marshaler interface.
func (op *CursorOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Op    string                  `json:"op"`
		ID    common.LogicalTimestamp `json:"id"`
		Value overlay.Cursor          `json:"value"`
	}{
		Op:    string(OperationTypeCursor),
		ID:    op.OperationID,
		Value: op.Cursor,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (op *CursorOperation) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    common.LogicalTimestamp `json:"id"`
		Value overlay.Cursor          `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Value.UserID == "" {
		return common.ErrInvalidOperation{Message: "cur operation missing userId"}
	}
	op.OperationID = raw.ID
	op.Cursor = raw.Value
	return nil
}

// marshalElementOp encodes an ins/upd operation envelope.
func marshalElementOp(opType string, id common.LogicalTimestamp, el overlay.Element) ([]byte, error) {
	value, err := json.Marshal(el)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Op    string                  `json:"op"`
		ID    common.LogicalTimestamp `json:"id"`
		Value json.RawMessage         `json:"value"`
	}{
		Op:    opType,
		ID:    id,
		Value: value,
	})
}

// unmarshalElementOp decodes an ins/upd operation envelope.
func unmarshalElementOp(data []byte) (common.LogicalTimestamp, overlay.Element, error) {
	var raw struct {
		ID    common.LogicalTimestamp `json:"id"`
		Value json.RawMessage         `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return common.NilTimestamp, nil, err
	}
	if len(raw.Value) == 0 {
		return common.NilTimestamp, nil, common.ErrInvalidOperation{Message: "element operation missing value"}
	}
	el, err := overlay.UnmarshalElement(raw.Value)
	if err != nil {
		return common.NilTimestamp, nil, err
	}
	return raw.ID, el, nil
}

// UnmarshalOperation decodes an operation, dispatching on the "op" field.
func UnmarshalOperation(data []byte) (Operation, error) {
	var probe struct {
		Op OperationType `json:"op"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	var op Operation
	switch probe.Op {
	case OperationTypeInsert:
		op = &InsertOperation{}
	case OperationTypeUpdate:
		op = &UpdateOperation{}
	case OperationTypeRemove:
		op = &RemoveOperation{}
	case OperationTypeCursor:
		op = &CursorOperation{}
	default:
		return nil, common.ErrInvalidOperationType{Type: string(probe.Op)}
	}

	if err := json.Unmarshal(data, op); err != nil {
		return nil, err
	}
	return op, nil
}
