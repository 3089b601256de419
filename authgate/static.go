package authgate

import "context"

// StaticGate resolves every challenge with a fixed outcome. It is used for
// unattended operation (always allow) and for exercising declined-auth paths
// in tests (always fail with Err).
type StaticGate struct {
	// Err is returned for every challenge; nil means every challenge passes
	Err error
}

// NewAllowAll returns a gate that passes every challenge
func NewAllowAll() *StaticGate {
	return &StaticGate{}
}

// NewDenyAll returns a gate that declines every challenge
func NewDenyAll() *StaticGate {
	return &StaticGate{Err: ErrDeclined}
}

func (g *StaticGate) Authorize(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.Err
}
