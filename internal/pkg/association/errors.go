package association

import (
	"errors"
	"fmt"
)

//Domain errors returned by the Manager. Check them with errors.Is.
var (
	// ErrDeviceNotFound is returned when the referenced device does not exist.
	ErrDeviceNotFound = errors.New("association: device not found")

	// ErrGatewayNotFound is returned when the referenced gateway does not exist.
	ErrGatewayNotFound = errors.New("association: gateway not found")

	// ErrAlreadyAssociated is returned when a device already belongs to a gateway.
	ErrAlreadyAssociated = errors.New("association: device is already associated with a gateway")

	// ErrLimitReached is returned when a gateway already has the maximum number of devices.
	ErrLimitReached = errors.New("association: gateway has reached the limit of associated devices")

	errDetachContention = errors.New("association changed repeatedly while detaching")
)

//InfraError wraps a failure of the underlying store. It is never user correctable.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("association: %s: %s", e.Op, e.Err.Error())
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

//IsNotFound reports whether err is a device or gateway not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrGatewayNotFound)
}

//IsConflict reports whether err is a violation of the association invariants.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyAssociated) || errors.Is(err, ErrLimitReached)
}

//IsInfra reports whether err originates from the store.
func IsInfra(err error) bool {
	var infra *InfraError
	return errors.As(err, &infra)
}

func wrapInfra(op string, err error) error {
	if err == nil || IsNotFound(err) || IsConflict(err) {
		return err
	}
	return &InfraError{Op: op, Err: err}
}
