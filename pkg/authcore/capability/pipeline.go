package capability

import (
	"fmt"

	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
)

// Strategy controls how a Pipeline combines results across multiple
// required capabilities.
type Strategy string

const (
	// StrategyAll requires every capability in the request to pass.
	StrategyAll Strategy = "all"
	// StrategyAny short-circuits on the first capability that passes.
	StrategyAny Strategy = "any"
)

// Pipeline evaluates one or more required capabilities against a token
// using an ordered, statically configured list of Checkers. For a given
// capability, every configured Checker must allow it; this lets operators
// layer additional constraints (an IP allowlist, an emergency lockdown
// switch) onto the base scope/group checks without touching them.
type Pipeline struct {
	checkers []Checker
}

// NewPipeline builds a Pipeline that conjoins checkers, in order.
func NewPipeline(checkers ...Checker) *Pipeline {
	return &Pipeline{checkers: checkers}
}

// Decision is the outcome of evaluating one required capability.
type Decision struct {
	Capability string
	Allowed    bool
	Reason     string
}

// checkOne runs every configured checker against capability, stopping at
// the first denial.
func (p *Pipeline) checkOne(capability string, token *tokencodec.Claims) (Decision, error) {
	if len(p.checkers) == 0 {
		return Decision{Capability: capability, Allowed: false, Reason: "no capability checkers configured"}, nil
	}

	for _, checker := range p.checkers {
		allowed, reason, err := checker.Check(capability, token)
		if err != nil {
			return Decision{}, fmt.Errorf("capability: checker failed for %q: %w", capability, err)
		}
		if !allowed {
			return Decision{Capability: capability, Allowed: false, Reason: reason}, nil
		}
	}
	return Decision{Capability: capability, Allowed: true}, nil
}

// Evaluate checks required capabilities against token under strategy.
// With StrategyAll every capability must pass; Decisions contains one
// entry per capability evaluated. With StrategyAny evaluation stops at
// the first capability that passes; Decisions contains every capability
// evaluated up to and including that one (or all of them, if none pass).
func (p *Pipeline) Evaluate(required []string, token *tokencodec.Claims, strategy Strategy) (allowed bool, decisions []Decision, err error) {
	decisions = make([]Decision, 0, len(required))

	switch strategy {
	case StrategyAny:
		for _, capability := range required {
			d, err := p.checkOne(capability, token)
			if err != nil {
				return false, decisions, err
			}
			decisions = append(decisions, d)
			if d.Allowed {
				return true, decisions, nil
			}
		}
		return false, decisions, nil

	case StrategyAll, "":
		allAllowed := true
		for _, capability := range required {
			d, err := p.checkOne(capability, token)
			if err != nil {
				return false, decisions, err
			}
			decisions = append(decisions, d)
			if !d.Allowed {
				allAllowed = false
			}
		}
		return allAllowed && len(required) > 0, decisions, nil

	default:
		return false, nil, fmt.Errorf("capability: unknown strategy %q", strategy)
	}
}
