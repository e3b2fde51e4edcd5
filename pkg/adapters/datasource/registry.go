package datasource

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// AdapterInfo describes a registered adapter for discovery.
type AdapterInfo struct {
	Type        string               `json:"type"`         // "postgres", "mongodb", "redis"
	DisplayName string               `json:"display_name"` // "PostgreSQL", "MongoDB"
	Description string               `json:"description"`
	Family      models.BackendFamily `json:"family"`
	// Aliases are hosted-service names that speak the same protocol, e.g. "supabase".
	Aliases []string `json:"aliases,omitempty"`
}

// Deps are the shared collaborators handed to every adapter factory.
type Deps struct {
	Conns  *ConnectionManager
	Engine config.EngineConfig
	Logger *zap.Logger
	// Clock resolves relative time windows. Defaults to time.Now.
	Clock func() time.Time
}

// Now returns the current time from Clock.
func (d Deps) Now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock()
}

// Normalizer returns a normalizer configured from the engine settings.
func (d Deps) Normalizer() *Normalizer {
	return NewNormalizer(d.Engine.MaxDecimalDigits)
}

// AdapterRegistration contains info and the factory for one adapter type.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory func(ctx context.Context, desc *models.ConnectionDescriptor, deps Deps) (Adapter, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
	aliases    = make(map[string]string)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
	for _, alias := range reg.Info.Aliases {
		aliases[alias] = reg.Info.Type
	}
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// Lookup returns the registration for a type or alias.
func Lookup(dsType string) (AdapterRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	dsType = strings.ToLower(strings.TrimSpace(dsType))
	if canonical, ok := aliases[dsType]; ok {
		dsType = canonical
	}
	reg, ok := registry[dsType]
	return reg, ok
}

// IsRegistered checks if an adapter type or alias is available.
func IsRegistered(dsType string) bool {
	_, ok := Lookup(dsType)
	return ok
}
