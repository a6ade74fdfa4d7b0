package capability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
)

func claimsWith(scopes []string, groups ...string) *tokencodec.Claims {
	refs := make([]tokencodec.GroupRef, 0, len(groups))
	for i, g := range groups {
		refs = append(refs, tokencodec.GroupRef{Name: g, ID: int64(i)})
	}
	return &tokencodec.Claims{Subject: "alice", Username: "alice", Scopes: scopes, IsMemberOf: refs}
}

func TestScopeChecker(t *testing.T) {
	t.Parallel()
	c := scopeChecker{}

	allowed, _, err := c.Check("read:all", claimsWith([]string{"read:all"}))
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, reason, err := c.Check("write:all", claimsWith([]string{"read:all"}))
	require.NoError(t, err)
	require.False(t, allowed)
	require.NotEmpty(t, reason)
}

func TestGroupChecker(t *testing.T) {
	t.Parallel()
	c := groupChecker{mapping: GroupMapping{"admin:token": "admins"}}

	allowed, _, err := c.Check("admin:token", claimsWith(nil, "admins"))
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = c.Check("admin:token", claimsWith(nil, "users"))
	require.NoError(t, err)
	require.False(t, allowed)

	// Scope alone also satisfies the group checker, per spec.
	allowed, _, err = c.Check("admin:token", claimsWith([]string{"admin:token"}))
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestPipeline_StrategyAll(t *testing.T) {
	t.Parallel()
	p := NewPipeline(scopeChecker{})
	token := claimsWith([]string{"read:all", "exec:notebook"})

	allowed, decisions, err := p.Evaluate([]string{"read:all", "exec:notebook"}, token, StrategyAll)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Len(t, decisions, 2)

	allowed, decisions, err = p.Evaluate([]string{"read:all", "write:all"}, token, StrategyAll)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Len(t, decisions, 2, "all-strategy evaluates every capability even after a denial")
}

func TestPipeline_StrategyAny(t *testing.T) {
	t.Parallel()
	p := NewPipeline(scopeChecker{})
	token := claimsWith([]string{"exec:notebook"})

	allowed, decisions, err := p.Evaluate([]string{"read:all", "exec:notebook", "write:all"}, token, StrategyAny)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Len(t, decisions, 2, "any-strategy short-circuits at the first allowed capability")
}

func TestPipeline_StrategyAny_NoneAllowed(t *testing.T) {
	t.Parallel()
	p := NewPipeline(scopeChecker{})
	token := claimsWith(nil)

	allowed, decisions, err := p.Evaluate([]string{"read:all", "write:all"}, token, StrategyAny)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Len(t, decisions, 2)
}

func TestPipeline_ConjoinsCheckers(t *testing.T) {
	t.Parallel()
	alwaysDeny := denyingChecker{reason: "lockdown"}
	p := NewPipeline(scopeChecker{}, alwaysDeny)
	token := claimsWith([]string{"read:all"})

	allowed, decisions, err := p.Evaluate([]string{"read:all"}, token, StrategyAll)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, "lockdown", decisions[0].Reason)
}

type denyingChecker struct{ reason string }

func (d denyingChecker) Check(string, *tokencodec.Claims) (bool, string, error) {
	return false, d.reason, nil
}

func TestRegistry_BuiltinsRegistered(t *testing.T) {
	t.Parallel()
	require.True(t, IsRegistered("scope"))
	require.True(t, IsRegistered("group"))
	require.True(t, IsRegistered("cedar"))
	require.Contains(t, RegisteredTypes(), "scope")
}

func TestRegistry_PanicsOnDuplicate(t *testing.T) {
	t.Parallel()
	Register("test-capability-duplicate", scopeFactory{})
	require.Panics(t, func() {
		Register("test-capability-duplicate", scopeFactory{})
	})
}

func TestRegistry_GetFactory_Unknown(t *testing.T) {
	t.Parallel()
	require.Nil(t, GetFactory("does-not-exist"))
}
