package execution

import (
	"errors"
	"fmt"

	"github.com/docker/docker/errdefs"
)

// OpKind classifies a runtime failure.
type OpKind string

const (
	KindBuild     OpKind = "build"
	KindAPI       OpKind = "api"
	KindContainer OpKind = "container"
	KindNotFound  OpKind = "not_found"
)

// OpError is returned by every Runtime operation.
type OpError struct {
	Op   string
	Kind OpKind
	Name string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Name, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a runtime not-found failure.
func IsNotFound(err error) bool {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind == KindNotFound
	}
	return errdefs.IsNotFound(err)
}

func apiError(op, name string, err error) error {
	kind := KindAPI
	if errdefs.IsNotFound(err) {
		kind = KindNotFound
	}
	return &OpError{Op: op, Kind: kind, Name: name, Err: err}
}
