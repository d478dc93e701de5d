package registry

import "fmt"

// UnauthorizedError is returned by Guard when the Authorizer refuses a
// caller.
type UnauthorizedError struct {
	Caller string
	Op     Op
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("caller %q may not %s", e.Caller, e.Op)
}

func NewUnauthorizedError(caller string, op Op) UnauthorizedError {
	return UnauthorizedError{Caller: caller, Op: op}
}
