// Package result provides a small success/failure container used to carry
// expected business outcomes without raising errors through control flow.
package result

// Result holds either a value or an error, never both.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Err wraps a failure.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// IsOk reports whether the result holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the result holds an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Unwrap returns the value and error in Go's conventional pair form.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

// Value returns the contained value; the zero value when IsErr.
func (r Result[T]) Value() T { return r.value }

// Error returns the contained error; nil when IsOk.
func (r Result[T]) Error() error { return r.err }

// OrElse returns the value, or fallback when the result is an error.
func (r Result[T]) OrElse(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// Match invokes exactly one of the two callbacks.
func (r Result[T]) Match(onOk func(T), onErr func(error)) {
	if r.err != nil {
		if onErr != nil {
			onErr(r.err)
		}
		return
	}
	if onOk != nil {
		onOk(r.value)
	}
}

// Map transforms the value of a successful result, passing errors through.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(fn(r.value))
}

// AndThen chains a fallible transformation, passing errors through.
func AndThen[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return fn(r.value)
}
