package endpoint

import "fmt"

// DuplicateKeyError is returned when an endpoint key is registered twice.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("endpoint %q already registered", e.Key)
}

// UnknownEndpointError is returned when resolving a key nobody registered.
type UnknownEndpointError struct {
	Key string
}

func (e *UnknownEndpointError) Error() string {
	return fmt.Sprintf("unknown endpoint %q", e.Key)
}
