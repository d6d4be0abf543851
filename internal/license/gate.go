package license

import (
	"context"
	"log/slog"

	"licensegate/internal/infrastructure"
)

// Classification decides whether an operation is gated at all.
type Classification string

const (
	// ClassificationFree operations bypass the engine entirely: zero
	// overhead, zero network access.
	ClassificationFree Classification = "free"

	// ClassificationLicensed operations run only against a valid license.
	ClassificationLicensed Classification = "licensed"
)

// Operation is a protected unit of work.
type Operation func(ctx context.Context) error

// DeniedFunc receives the outcome when an operation is refused. A denial is
// a normal, expected result (typically routed to a user-facing
// redirect-to-purchase prompt), not a fault.
type DeniedFunc func(ctx context.Context, outcome Outcome)

// Checker is the slice of the engine the gate needs.
type Checker interface {
	Check(ctx context.Context, opts CheckOptions) (Outcome, error)
}

// Gate wraps protected operations with a license check. The registration
// target is an injected dependency; the gate never substitutes or mutates
// shared functions in place.
type Gate struct {
	engine Checker
	denied DeniedFunc
	logger *slog.Logger
}

// NewGate creates a gate over the given engine. denied may be nil, in which
// case refusals are only logged.
func NewGate(engine Checker, denied DeniedFunc) *Gate {
	return &Gate{
		engine: engine,
		denied: denied,
		logger: infrastructure.GetLogger().With(slog.String("component", "license_gate")),
	}
}

// Wrap returns the operation guarded according to its classification. Free
// operations are returned unchanged. Licensed operations consult the engine
// and, when refused, invoke the denial callback and return nil: the caller
// sees an empty result, not an error.
func (g *Gate) Wrap(class Classification, op Operation) Operation {
	if class == ClassificationFree {
		return op
	}

	return func(ctx context.Context) error {
		outcome, err := g.engine.Check(ctx, CheckOptions{})
		if err != nil {
			// Storage write failures are the one error the engine surfaces;
			// the operation still must not run on an unconfirmed license.
			g.logger.ErrorContext(ctx, "license check failed with storage error",
				slog.String("error", err.Error()),
			)
			g.refuse(ctx, outcome)
			return nil
		}

		if !outcome.IsValid {
			g.logger.InfoContext(ctx, "protected operation refused",
				slog.String("status", string(outcome.Status)),
				slog.String("reason", outcome.Message),
				slog.Bool("was_offline", outcome.WasOffline),
			)
			g.refuse(ctx, outcome)
			return nil
		}

		return op(ctx)
	}
}

func (g *Gate) refuse(ctx context.Context, outcome Outcome) {
	if g.denied != nil {
		g.denied(ctx, outcome)
	}
}
