package deck

import (
	"fmt"

	"github.com/mocdown/mocdown/pkg/engine"
)

var (
	// ErrMalformedDeck matches any error raised for unparseable deck text.
	ErrMalformedDeck = &engine.EngineError{Class: engine.ErrorClassPrecondition, Code: engine.ErrCodeMalformedDeck}

	// ErrCardNotMatched matches a substitution whose target card was not found.
	ErrCardNotMatched = &engine.EngineError{Class: engine.ErrorClassPrecondition, Code: engine.ErrCodeCardNotMatched}
)

func malformed(format string, args ...interface{}) error {
	return engine.NewPreconditionError(fmt.Sprintf(format, args...), nil).
		WithCode(engine.ErrCodeMalformedDeck).
		WithOperation("parse deck")
}
