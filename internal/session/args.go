package session

import "fmt"

// ArgumentError reports a missing or mistyped command argument.
type ArgumentError struct {
	Index int
	Name  string
	Want  string
	Got   any
}

func (e *ArgumentError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("argument %d (%s): missing, want %s", e.Index, e.Name, e.Want)
	}
	return fmt.Sprintf("argument %d (%s): got %T, want %s", e.Index, e.Name, e.Got, e.Want)
}

func stringArg(args []any, i int, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", &ArgumentError{Index: i, Name: name, Want: "string"}
	}
	s, ok := args[i].(string)
	if !ok {
		return "", &ArgumentError{Index: i, Name: name, Want: "string", Got: args[i]}
	}
	return s, nil
}

func intArg(args []any, i int, name string) (int, error) {
	if i >= len(args) || args[i] == nil {
		return 0, &ArgumentError{Index: i, Name: name, Want: "int"}
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return 0, &ArgumentError{Index: i, Name: name, Want: "int", Got: args[i]}
}

// optionalArg copies args[i] into dst when present. The argument may be
// the option struct itself or a pointer to it; nil or absent leaves dst
// untouched.
func optionalArg[T any](args []any, i int, dst *T) error {
	if i >= len(args) || args[i] == nil {
		return nil
	}
	switch v := args[i].(type) {
	case T:
		*dst = v
	case *T:
		if v != nil {
			*dst = *v
		}
	default:
		var zero T
		return &ArgumentError{Index: i, Name: "options", Want: fmt.Sprintf("%T", zero), Got: args[i]}
	}
	return nil
}
