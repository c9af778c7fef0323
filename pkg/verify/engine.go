package verify

import "time"

// VerificationEngine checks an intent against the current page state.
type VerificationEngine interface {
	Verify(c Context, intent Intent) VerificationResult
}

// Option configures the DefaultEngine.
type Option func(*DefaultEngine)

// WithFailFast stops verification on the first failed assertion.
func WithFailFast(ff bool) Option {
	return func(e *DefaultEngine) {
		e.failFast = ff
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *DefaultEngine) {
		e.now = now
	}
}

// DefaultEngine is the standard verification engine.
type DefaultEngine struct {
	failFast bool
	now      func() time.Time
}

// NewEngine creates a new verification engine with the given options.
func NewEngine(opts ...Option) *DefaultEngine {
	e := &DefaultEngine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify evaluates every assertion of intent against c. Assertions that fail
// to build are recorded as failed results.
func (e *DefaultEngine) Verify(c Context, intent Intent) VerificationResult {
	result := VerificationResult{
		Passed:    true,
		Timestamp: e.now(),
		Results:   make([]AssertionResult, 0, len(intent.Assertions)),
	}

	for _, def := range intent.Assertions {
		ar := AssertionResult{Assertion: def, Label: def.DisplayLabel()}
		p, err := Build(def)
		if err != nil {
			ar.Outcome = fail(err.Error(), FaultDetails{ReasonCode: ReasonParseError, Error: err.Error()})
		} else {
			ar.Outcome = Evaluate(p, c)
		}
		result.Results = append(result.Results, ar)

		if !ar.Outcome.Passed {
			result.Passed = false
			if e.failFast {
				return result
			}
		}
	}
	return result
}
