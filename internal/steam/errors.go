package steam

import (
	"encoding/json"
	"fmt"

	"github.com/ksred/steam-billing-api/internal/types"
)

const genericPlatformMessage = "steam api returned unknown error"

// PlatformError is a non-OK result, or an unusable response, from the
// platform. It unwraps to types.ErrPlatform.
type PlatformError struct {
	Operation   string
	Code        string
	Description string
	HTTPStatus  int
	// Rejected is set only when the platform answered and its result was
	// not OK. Transport, HTTP and decoding failures leave it false.
	Rejected bool
}

func (e *PlatformError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return genericPlatformMessage
}

func (e *PlatformError) Unwrap() error {
	return types.ErrPlatform
}

// errorBody is the error object attached to every platform envelope
type errorBody struct {
	ErrorCode json.Number `json:"errorcode"`
	ErrorDesc string      `json:"errordesc"`
}

func (b *errorBody) toError(op string) *PlatformError {
	pe := &PlatformError{Operation: op, Rejected: true}
	if b != nil {
		pe.Code = b.ErrorCode.String()
		pe.Description = b.ErrorDesc
	}
	return pe
}

func missingField(op, field string) *PlatformError {
	return &PlatformError{
		Operation:   op,
		Description: fmt.Sprintf("steam %s response missing %s", op, field),
	}
}

func rejected(op, code, desc string) *PlatformError {
	return &PlatformError{Operation: op, Code: code, Description: desc, Rejected: true}
}

func unreachable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", types.ErrPlatform, op, err)
}

// PlatformMessage is the text shown to API callers
func (e *PlatformError) PlatformMessage() string {
	return e.Error()
}
