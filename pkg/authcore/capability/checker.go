// Package capability implements the capability checker pipeline: an
// ordered set of predicates mapping (required capability, token) to an
// allow/deny decision, plus a registry so operators can add predicate
// types without touching the core evaluation loop.
package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
)

// Checker is one predicate in the pipeline: does token satisfy
// requiredCapability? The returned reason is surfaced to callers on
// denial and should be safe to show to the denied user.
type Checker interface {
	Check(requiredCapability string, token *tokencodec.Claims) (allowed bool, reason string, err error)
}

// Factory builds a Checker from its raw JSON configuration, and validates
// that configuration ahead of time, separately from any particular
// request.
type Factory interface {
	ValidateConfig(raw json.RawMessage) error
	CreateChecker(raw json.RawMessage) (Checker, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds factory under name. It panics if name is already
// registered, since that would silently shadow an operator's existing
// predicate type.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("capability: factory %q already registered", name))
	}
	registry[name] = factory
}

// GetFactory returns the factory registered under name, or nil.
func GetFactory(name string) Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// IsRegistered reports whether name has a registered factory.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// RegisteredTypes returns every registered factory name, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("scope", scopeFactory{})
	Register("group", groupFactory{})
	Register("cedar", cedarFactory{})
}
