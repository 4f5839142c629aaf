package workflow

import (
	"errors"
	"fmt"
)

// ErrTemplateDisabled is returned when binding against a disabled table.
var ErrTemplateDisabled = errors.New("workflow template is disabled")

// ErrSchema is returned when a binding table does not match its schema.
var ErrSchema = errors.New("binding table does not match schema")

// BindingTargetMissingError is returned when a binding targets a node that is
// not present in the template.
type BindingTargetMissingError struct {
	Param string
	Node  ID
}

func (e *BindingTargetMissingError) Error() string {
	return fmt.Sprintf("binding %q targets missing node %q", e.Param, e.Node)
}

// DisabledError carries the note of a disabled binding table.
type DisabledError struct {
	Family string
	Note   string
}

func (e *DisabledError) Error() string {
	msg := ErrTemplateDisabled.Error()
	if e.Family != "" {
		msg = fmt.Sprintf("workflow template %q is disabled", e.Family)
	}
	if e.Note != "" {
		msg += ": " + e.Note
	}
	return msg
}

func (e *DisabledError) Unwrap() error { return ErrTemplateDisabled }

// GraphValidationError is returned when a mutation cannot find an anchor node
// it depends on.
type GraphValidationError struct {
	Anchor ID
	Reason string
}

func (e *GraphValidationError) Error() string {
	return fmt.Sprintf("graph anchor %q: %s", e.Anchor, e.Reason)
}
