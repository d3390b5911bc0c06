package claims

import "fmt"

// ValidationError reports invalid caller input. It is surfaced to the client
// as a 400 and never treated as a pipeline failure.
type ValidationError struct {
	Param string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Param, e.Msg)
}

// CategoryError wraps the failure of one category worker.
type CategoryError struct {
	Category Category
	Err      error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("fetch %s claims: %v", e.Category, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }
