package types

import "errors"

// Error kinds shared by the orchestrator, the reconciliation engine and the
// HTTP layer. Callers wrap them with fmt.Errorf("%w: ...") and classify with
// errors.Is.
var (
	// ErrValidation marks missing or malformed caller input. It never reaches the platform.
	ErrValidation = errors.New("validation failed")
	// ErrNotEntitled marks a failed ownership, ticket or trust check.
	ErrNotEntitled = errors.New("not entitled")
	// ErrUnknownProduct marks a catalog miss or an unpriceable product.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrPlatform marks a non-OK platform result or an unreachable platform.
	ErrPlatform = errors.New("platform error")
	// ErrPersistence marks a failed store write.
	ErrPersistence = errors.New("persistence error")
)
