package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-marketplace/core"
)

// IntegrationPack is a named set of catalog entries shipped together, such as
// the integrations of one developer.
type IntegrationPack struct {
	Name         string
	Integrations []core.Integration
}

type AuthStrategyPack struct {
	Name       string
	Strategies []core.AuthStrategy
}

type CommandQueryBundleFactory func(service *Service) (any, error)

// IntegrationWriter persists catalog entries. Both the memory catalog and the
// SQL integration store satisfy it.
type IntegrationWriter interface {
	Save(ctx context.Context, integration core.Integration) (core.Integration, error)
}

type AuthStrategyRegistrar interface {
	Register(strategy core.AuthStrategy) error
}

type ExtensionHooks struct {
	mu sync.RWMutex

	integrationPacks map[string]IntegrationPack
	authPacks        map[string]AuthStrategyPack
	bundles          map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		integrationPacks: map[string]IntegrationPack{},
		authPacks:        map[string]AuthStrategyPack{},
		bundles:          map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterIntegrationPack(pack IntegrationPack) error {
	if h == nil {
		return fmt.Errorf("marketplace: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("marketplace: integration pack name is required")
	}
	if len(pack.Integrations) == 0 {
		return fmt.Errorf("marketplace: integration pack %q has no integrations", name)
	}
	seen := make(map[string]struct{}, len(pack.Integrations))
	for _, integration := range pack.Integrations {
		id := strings.TrimSpace(integration.ID)
		if id == "" {
			return fmt.Errorf("marketplace: integration pack %q contains an integration without id", name)
		}
		if _, exists := seen[id]; exists {
			return fmt.Errorf("marketplace: integration pack %q lists %q twice", name, id)
		}
		seen[id] = struct{}{}
	}

	normalized := IntegrationPack{
		Name:         name,
		Integrations: append([]core.Integration(nil), pack.Integrations...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.integrationPacks[name]; exists {
		return fmt.Errorf("marketplace: integration pack %q already registered", name)
	}
	for otherName, other := range h.integrationPacks {
		for _, integration := range other.Integrations {
			if _, clash := seen[strings.TrimSpace(integration.ID)]; clash {
				return fmt.Errorf("marketplace: integration %q already shipped by pack %q", integration.ID, otherName)
			}
		}
	}
	h.integrationPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterAuthStrategyPack(pack AuthStrategyPack) error {
	if h == nil {
		return fmt.Errorf("marketplace: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("marketplace: auth strategy pack name is required")
	}
	if len(pack.Strategies) == 0 {
		return fmt.Errorf("marketplace: auth strategy pack %q has no strategies", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.authPacks[name]; exists {
		return fmt.Errorf("marketplace: auth strategy pack %q already registered", name)
	}
	h.authPacks[name] = AuthStrategyPack{
		Name:       name,
		Strategies: append([]core.AuthStrategy(nil), pack.Strategies...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("marketplace: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("marketplace: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("marketplace: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("marketplace: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyIntegrationPacks saves every packed integration, in pack name order.
func (h *ExtensionHooks) ApplyIntegrationPacks(ctx context.Context, writer IntegrationWriter) error {
	if h == nil {
		return nil
	}
	if writer == nil {
		return fmt.Errorf("marketplace: integration writer is required")
	}
	for _, pack := range h.IntegrationPacks() {
		for _, integration := range pack.Integrations {
			if _, err := writer.Save(ctx, integration); err != nil {
				return fmt.Errorf("marketplace: apply integration pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) ApplyAuthStrategyPacks(registrar AuthStrategyRegistrar) error {
	if h == nil {
		return nil
	}
	if registrar == nil {
		return fmt.Errorf("marketplace: auth strategy registrar is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.authPacks))
	for name := range h.authPacks {
		names = append(names, name)
	}
	packs := make(map[string]AuthStrategyPack, len(h.authPacks))
	for name, pack := range h.authPacks {
		packs[name] = pack
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		for _, strategy := range packs[name].Strategies {
			if strategy == nil {
				return fmt.Errorf("marketplace: auth strategy pack %q contains nil strategy", name)
			}
			if err := registrar.Register(strategy); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(service *Service) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("marketplace: service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) IntegrationPacks() []IntegrationPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.integrationPacks))
	for name := range h.integrationPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]IntegrationPack, 0, len(names))
	for _, name := range names {
		pack := h.integrationPacks[name]
		out = append(out, IntegrationPack{
			Name:         pack.Name,
			Integrations: append([]core.Integration(nil), pack.Integrations...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
