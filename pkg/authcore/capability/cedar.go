package capability

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cedar-policy/cedar-go"
	"github.com/cedar-policy/cedar-go/types"

	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
)

// ErrNoPolicies is returned when a cedar checker is configured with an
// empty policy set; an operator-supplied policy store must forbid by
// default, never allow by default, so an empty set is a configuration
// error rather than an implicit deny.
var ErrNoPolicies = errors.New("capability: cedar checker requires at least one policy")

// cedarConfig is the raw JSON shape accepted by the cedar checker: one or
// more policy statements and, optionally, a JSON-encoded entity store
// (group hierarchies, resource attributes) the policies can reference.
type cedarConfig struct {
	Policies     []string `json:"policies"`
	EntitiesJSON string   `json:"entities_json"`
}

type cedarChecker struct {
	policySet cedar.PolicySet
	entities  types.EntityMap
}

// NewCedarChecker builds a checker that evaluates a capability request as
// a Cedar authorization request: principal is the token's subject,
// action is the required capability name, resource is the fixed entity
// Resource::"gateway", and context carries the token's scopes and group
// memberships as `scopes` and `groups` record attributes.
func NewCedarChecker(policies []string, entitiesJSON string) (Checker, error) {
	if len(policies) == 0 {
		return nil, ErrNoPolicies
	}

	var combined []byte
	for _, p := range policies {
		combined = append(combined, []byte(p+"\n")...)
	}

	policySet, err := cedar.NewPolicySetFromBytes("authgate.cedar", combined)
	if err != nil {
		return nil, fmt.Errorf("capability: failed to parse cedar policies: %w", err)
	}

	entities := types.EntityMap{}
	if entitiesJSON != "" {
		if err := json.Unmarshal([]byte(entitiesJSON), &entities); err != nil {
			return nil, fmt.Errorf("capability: failed to parse cedar entities: %w", err)
		}
	}

	return &cedarChecker{policySet: policySet, entities: entities}, nil
}

func (c *cedarChecker) Check(required string, token *tokencodec.Claims) (bool, string, error) {
	scopesValue := make(types.Set, 0, len(token.Scopes))
	for _, s := range token.Scopes {
		scopesValue = append(scopesValue, types.String(s))
	}

	groupsValue := make(types.Set, 0, len(token.IsMemberOf))
	for _, g := range token.GroupNames() {
		groupsValue = append(groupsValue, types.String(g))
	}

	req := cedar.Request{
		Principal: types.NewEntityUID("User", types.String(token.Subject)),
		Action:    types.NewEntityUID("Action", types.String(required)),
		Resource:  types.NewEntityUID("Resource", types.String("gateway")),
		Context: types.NewRecord(types.RecordMap{
			"scopes":   scopesValue,
			"groups":   groupsValue,
			"username": types.String(token.Username),
		}),
	}

	decision, diagnostic := c.policySet.IsAuthorized(c.entities, req)
	if decision == types.Allow {
		return true, "", nil
	}

	reason := fmt.Sprintf("cedar policy set denied capability %q", required)
	if len(diagnostic.Reasons) > 0 {
		reason = fmt.Sprintf("%s: %s", reason, diagnostic.Reasons[0].Policy)
	}
	return false, reason, nil
}

type cedarFactory struct{}

func (cedarFactory) ValidateConfig(raw json.RawMessage) error {
	var cfg cedarConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	_, err := NewCedarChecker(cfg.Policies, cfg.EntitiesJSON)
	return err
}

func (cedarFactory) CreateChecker(raw json.RawMessage) (Checker, error) {
	var cfg cedarConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return NewCedarChecker(cfg.Policies, cfg.EntitiesJSON)
}
