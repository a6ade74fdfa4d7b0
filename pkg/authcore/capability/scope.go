package capability

import (
	"encoding/json"
	"fmt"

	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
)

// scopeChecker allows a capability that appears verbatim in the token's
// scope set.
type scopeChecker struct{}

func (scopeChecker) Check(required string, token *tokencodec.Claims) (bool, string, error) {
	if token.HasScope(required) {
		return true, "", nil
	}
	return false, fmt.Sprintf("token does not carry scope %q", required), nil
}

type scopeFactory struct{}

func (scopeFactory) ValidateConfig(json.RawMessage) error { return nil }

func (scopeFactory) CreateChecker(json.RawMessage) (Checker, error) {
	return scopeChecker{}, nil
}
