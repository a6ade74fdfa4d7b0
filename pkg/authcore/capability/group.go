package capability

import (
	"encoding/json"
	"fmt"

	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
)

// GroupMapping is the static scope -> group_name table configured at
// startup; membership in the mapped group implies the scope.
type GroupMapping map[string]string

// groupChecker allows a capability when the token's scope carries it
// directly, or when the capability maps to a group the token belongs to.
type groupChecker struct {
	mapping GroupMapping
}

func (c groupChecker) Check(required string, token *tokencodec.Claims) (bool, string, error) {
	if token.HasScope(required) {
		return true, "", nil
	}

	groupName, mapped := c.mapping[required]
	if !mapped {
		return false, fmt.Sprintf("capability %q has no configured group mapping and no matching scope", required), nil
	}

	for _, name := range token.GroupNames() {
		if name == groupName {
			return true, "", nil
		}
	}
	return false, fmt.Sprintf("token is not a member of group %q required for capability %q", groupName, required), nil
}

type groupConfig struct {
	Mapping GroupMapping `json:"mapping"`
}

type groupFactory struct{}

func (groupFactory) ValidateConfig(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var cfg groupConfig
	return json.Unmarshal(raw, &cfg)
}

func (groupFactory) CreateChecker(raw json.RawMessage) (Checker, error) {
	var cfg groupConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Mapping == nil {
		cfg.Mapping = GroupMapping{}
	}
	return groupChecker{mapping: cfg.Mapping}, nil
}
