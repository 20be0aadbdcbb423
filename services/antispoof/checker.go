package antispoof

import (
	"context"
	"time"
)

// Claim is a single location fix as reported by a client device.
type Claim struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Provider  string
	Mocked    bool
	DeviceID  string
	Timestamp time.Time
}

// Verdict is the structured outcome of judging a claim. Suspicious but
// well-formed input never produces an error; it produces OK=false with the
// reason, or OK=true with a reduced Score. The error return is reserved for
// infrastructure failures (e.g. the fix history store being unreachable).
type Verdict struct {
	OK     bool
	Reason string
	Score  float64
}

// Checker judges the authenticity of a location claim. Implementations are
// injected into callers; swapping one in tests never touches process globals.
type Checker interface {
	Check(ctx context.Context, claim Claim) (Verdict, error)
}

// Rule is one composable check inside a Pipeline.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, claim Claim) (Verdict, error)
}
