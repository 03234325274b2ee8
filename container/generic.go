package container

import (
	"fmt"
)

// Register registers a typed factory for T, replacing any existing registration.
func Register[T any](c *Container, factory func(r Resolver) (T, error), opts ...Option) {
	c.Register(TypeOf[T](), wrap(factory), opts...)
}

// RegisterIfAbsent registers a typed factory for T unless T is already registered.
func RegisterIfAbsent[T any](c *Container, factory func(r Resolver) (T, error), opts ...Option) bool {
	return c.RegisterIfAbsent(TypeOf[T](), wrap(factory), opts...)
}

// RegisterInstance registers an externally owned value as an Unbound singleton.
// The container never closes it and every clone shares it.
func RegisterInstance[T any](c *Container, instance T) {
	c.Register(TypeOf[T](), func(Resolver) (any, error) {
		return instance, nil
	}, AsSingleton(), AsUnbound())
}

// Resolve resolves T from r.
func Resolve[T any](r Resolver) (T, error) {
	var zero T
	t := TypeOf[T]()

	v, err := r.Resolve(t)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, factoryFailed(t, fmt.Errorf("%w: got %T", ErrTypeMismatch, v))
	}
	return typed, nil
}

// TryResolve resolves T from r and reports false instead of returning an error.
func TryResolve[T any](r Resolver) (T, bool) {
	v, err := Resolve[T](r)
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// MustResolve resolves T from r and panics when it cannot.
func MustResolve[T any](r Resolver) T {
	v, err := Resolve[T](r)
	if err != nil {
		panic(err)
	}
	return v
}

func wrap[T any](factory func(r Resolver) (T, error)) FactoryFunc {
	if factory == nil {
		return nil
	}
	return func(r Resolver) (any, error) {
		v, err := factory(r)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}
