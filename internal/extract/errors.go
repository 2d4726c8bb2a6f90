package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrBadPath reports path syntax that ParsePath cannot read.
	ErrBadPath = errors.New("extract: bad path")

	// ErrUnknownTransform reports a transform name with no registered implementation.
	ErrUnknownTransform = errors.New("extract: unknown transform")

	// ErrTransform reports a transform applied to a value it does not accept.
	ErrTransform = errors.New("extract: transform failed")

	// ErrSpec reports an inconsistent field declaration (empty or duplicate
	// names, conflicting options).
	ErrSpec = errors.New("extract: invalid spec")
)

// FieldError ties a spec error to the output field that raised it. Field is
// the dotted output location, e.g. "products[3].price.selling_price".
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }
