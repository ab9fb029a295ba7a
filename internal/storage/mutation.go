package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPreconditionFailed is returned by Store.Update when an Expect mutation
// does not hold. The item is left unchanged.
var ErrPreconditionFailed = errors.New("storage: precondition failed")

// Op is a field-level update operation.
type Op int

const (
	// OpSet replaces a top-level field with a value.
	OpSet Op = iota
	// OpAdd adds a numeric delta to a top-level field; an absent field counts as zero.
	OpAdd
	// OpExpect aborts the whole update unless a numeric field holds a value.
	OpExpect
)

// Mutation is one field-level expression applied by Store.Update.
type Mutation struct {
	Op    Op
	Field string
	Value any
	Delta float64
}

// Set returns a mutation assigning value to field.
func Set(field string, value any) Mutation {
	return Mutation{Op: OpSet, Field: field, Value: value}
}

// Add returns a mutation adding delta to the numeric field.
// No clamping is applied; the result may be negative.
func Add(field string, delta float64) Mutation {
	return Mutation{Op: OpAdd, Field: field, Delta: delta}
}

// Expect returns a mutation that fails the update with ErrPreconditionFailed
// unless the numeric field equals value. An absent field counts as zero, as
// with Add.
func Expect(field string, value float64) Mutation {
	return Mutation{Op: OpExpect, Field: field, Delta: value}
}

// ApplyMutations applies muts in order to the JSON object body and returns the
// re-encoded document.
//
// Precondition: body is a JSON object.
// Postcondition: on error the input is left untouched.
func ApplyMutations(body json.RawMessage, muts []Mutation) (json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("storage: body is not an object: %w", err)
		}
	}
	for _, m := range muts {
		switch m.Op {
		case OpSet:
			raw, err := Marshal(m.Value)
			if err != nil {
				return nil, fmt.Errorf("storage: set %q: %w", m.Field, err)
			}
			doc[m.Field] = raw
		case OpAdd:
			current, err := numericField(doc, m.Field)
			if err != nil {
				return nil, fmt.Errorf("storage: add %q: %w", m.Field, err)
			}
			raw, err := json.Marshal(current + m.Delta)
			if err != nil {
				return nil, fmt.Errorf("storage: add %q: %w", m.Field, err)
			}
			doc[m.Field] = raw
		case OpExpect:
			current, err := numericField(doc, m.Field)
			if err != nil {
				return nil, fmt.Errorf("storage: expect %q: %w", m.Field, err)
			}
			if current != m.Delta {
				return nil, fmt.Errorf("%w: %s is %v, want %v", ErrPreconditionFailed, m.Field, current, m.Delta)
			}
		default:
			return nil, fmt.Errorf("storage: unknown mutation op %d", m.Op)
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("storage: encoding document: %w", err)
	}
	return out, nil
}

// numericField reads field from doc, treating absent and null as zero.
func numericField(doc map[string]json.RawMessage, field string) (float64, error) {
	var current float64
	raw, ok := doc[field]
	if !ok || string(raw) == "null" {
		return 0, nil
	}
	if err := json.Unmarshal(raw, &current); err != nil {
		return 0, fmt.Errorf("field is not numeric: %w", err)
	}
	return current, nil
}
