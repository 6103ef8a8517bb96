package lib

import "fmt"

// WrapError attaches detail to a sentinel error. Both remain reachable with errors.Is/errors.As
func WrapError(parent error, child error) error {
	return &wrappedError{parent: parent, child: child}
}

type wrappedError struct {
	parent error
	child  error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %s", e.parent, e.child)
}

func (e *wrappedError) Unwrap() []error {
	return []error{e.parent, e.child}
}
