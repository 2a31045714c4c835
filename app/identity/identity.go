package identity

import "context"

// Assertion is the subset of a third-party identity assertion this service
// acts on. Trust in EmailVerified is delegated to the identity provider.
type Assertion struct {
	Email         string
	Name          string
	EmailVerified bool
}

// Verifier checks a raw identity assertion against the expected audience and
// returns its claims. Implementations must reject tokens minted for another
// audience.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Assertion, error)
}
