package connector

import (
	"encoding/json"
	"fmt"
)

// Method is a registered server RPC method. Decode turns JSON parameters
// into typed arguments while the burst is parsed; Invoke applies them to a
// connector during dispatch.
type Method struct {
	Arity  int
	Decode func(params []json.RawMessage) ([]any, error)
	Invoke func(c Connector, args []any) error
}

func decodeArg[A any](raw json.RawMessage, index int) (A, error) {
	var a A
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("parameter %d: %w", index, err)
	}
	return a, nil
}

func argAs[A any](v any) A {
	a, _ := v.(A)
	return a
}

func checkArity(params []json.RawMessage, n int) error {
	if len(params) != n {
		return fmt.Errorf("%w: got %d, want %d", ErrArity, len(params), n)
	}
	return nil
}

func target[C Connector](c Connector) (C, error) {
	t, ok := c.(C)
	if !ok {
		return t, fmt.Errorf("%w: %T", ErrWrongConnector, c)
	}
	return t, nil
}

// Method0 registers a method without parameters.
func Method0[C Connector](fn func(C) error) Method {
	return Method{
		Arity: 0,
		Decode: func(params []json.RawMessage) ([]any, error) {
			return nil, checkArity(params, 0)
		},
		Invoke: func(c Connector, _ []any) error {
			t, err := target[C](c)
			if err != nil {
				return err
			}
			return fn(t)
		},
	}
}

// Method1 registers a method with one parameter decoded into A.
func Method1[C Connector, A any](fn func(C, A) error) Method {
	return Method{
		Arity: 1,
		Decode: func(params []json.RawMessage) ([]any, error) {
			if err := checkArity(params, 1); err != nil {
				return nil, err
			}
			a, err := decodeArg[A](params[0], 0)
			if err != nil {
				return nil, err
			}
			return []any{a}, nil
		},
		Invoke: func(c Connector, args []any) error {
			t, err := target[C](c)
			if err != nil {
				return err
			}
			return fn(t, argAs[A](args[0]))
		},
	}
}

// Method2 registers a method with two parameters decoded into A and B.
func Method2[C Connector, A, B any](fn func(C, A, B) error) Method {
	return Method{
		Arity: 2,
		Decode: func(params []json.RawMessage) ([]any, error) {
			if err := checkArity(params, 2); err != nil {
				return nil, err
			}
			a, err := decodeArg[A](params[0], 0)
			if err != nil {
				return nil, err
			}
			b, err := decodeArg[B](params[1], 1)
			if err != nil {
				return nil, err
			}
			return []any{a, b}, nil
		},
		Invoke: func(c Connector, args []any) error {
			t, err := target[C](c)
			if err != nil {
				return err
			}
			return fn(t, argAs[A](args[0]), argAs[B](args[1]))
		},
	}
}
