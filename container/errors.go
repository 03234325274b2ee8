package container

import (
	"errors"
	"reflect"

	"github.com/gaborage/restbricks/apierr"
)

var (
	// ErrDependencyNotFound is returned when a type has no registration.
	ErrDependencyNotFound = errors.New("dependency not found")

	// ErrContainerClosed is returned when resolving from a closed container or scope.
	ErrContainerClosed = errors.New("container closed")

	// ErrCircularDependency is returned when a factory resolves, directly or
	// indirectly, the type it is building.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrTypeMismatch is returned when a factory produces a value that is not
	// assignable to the registered type.
	ErrTypeMismatch = errors.New("resolved value has unexpected type")
)

const opResolve = "container.resolve"

func notFound(t reflect.Type) error {
	return apierr.NewConfigurationError(opResolve, TypeName(t), "no registration for type", ErrDependencyNotFound)
}

func closedError(t reflect.Type) error {
	return apierr.NewConfigurationError(opResolve, TypeName(t), "cannot resolve", ErrContainerClosed)
}

func circular(t reflect.Type, path []reflect.Type) error {
	chain := ""
	for _, p := range path {
		chain += TypeName(p) + " -> "
	}
	return apierr.NewConfigurationError(opResolve, TypeName(t), "resolution chain "+chain+TypeName(t), ErrCircularDependency)
}

func factoryFailed(t reflect.Type, err error) error {
	return apierr.NewConfigurationError(opResolve, TypeName(t), "factory failed", err)
}

// TypeName returns a package-qualified name for t, used in errors and logs.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.PkgPath() != "" && t.Name() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
