package datasource

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// AdapterFactory creates adapters from the registry.
type AdapterFactory interface {
	// NewAdapter creates an adapter for the descriptor's type. The descriptor's
	// Family is filled in from the registration when empty.
	NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor) (Adapter, error)

	// Resolve returns the registration info for a type or alias.
	Resolve(dsType string) (AdapterInfo, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	deps Deps
}

// NewAdapterFactory returns a factory that uses the global registry.
func NewAdapterFactory(deps Deps) AdapterFactory {
	return &registryFactory{deps: deps}
}

func (f *registryFactory) Resolve(dsType string) (AdapterInfo, error) {
	reg, ok := Lookup(dsType)
	if !ok {
		return AdapterInfo{}, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedBackend, dsType)
	}
	return reg.Info, nil
}

func (f *registryFactory) NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor) (Adapter, error) {
	reg, ok := Lookup(desc.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedBackend, desc.Type)
	}
	if desc.Family == "" {
		desc.Family = reg.Info.Family
	} else if desc.Family != reg.Info.Family {
		return nil, fmt.Errorf("backend type %s is %s, not %s", desc.Type, reg.Info.Family, desc.Family)
	}
	return reg.Factory(ctx, desc, f.deps)
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements AdapterFactory at compile time.
var _ AdapterFactory = (*registryFactory)(nil)
