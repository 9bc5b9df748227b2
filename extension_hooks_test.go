package marketplace

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-marketplace/auth"
	"github.com/goliatone/go-marketplace/core"
)

func TestExtensionHooks_RegisterAndApplyIntegrationPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	pack := IntegrationPack{
		Name: "acme-pack",
		Integrations: []core.Integration{
			{ID: "int_acme_crm", Name: "Acme CRM", Status: core.IntegrationStatusActive},
			{ID: "int_acme_billing", Name: "Acme Billing"},
		},
	}
	if err := hooks.RegisterIntegrationPack(pack); err != nil {
		t.Fatalf("register integration pack: %v", err)
	}
	if err := hooks.RegisterIntegrationPack(pack); err == nil {
		t.Fatalf("expected duplicate integration pack registration error")
	}
	if err := hooks.RegisterIntegrationPack(IntegrationPack{
		Name:         "other-pack",
		Integrations: []core.Integration{{ID: "int_acme_crm"}},
	}); err == nil {
		t.Fatalf("expected integration id clash across packs to fail")
	}

	catalog := core.NewMemoryIntegrationCatalog()
	if err := hooks.ApplyIntegrationPacks(context.Background(), catalog); err != nil {
		t.Fatalf("apply integration packs: %v", err)
	}
	crm, err := catalog.GetIntegration(context.Background(), "int_acme_crm")
	if err != nil {
		t.Fatalf("expected packed integration in catalog: %v", err)
	}
	if crm.Status != core.IntegrationStatusActive {
		t.Fatalf("expected status to be kept, got %s", crm.Status)
	}
	billing, err := catalog.GetIntegration(context.Background(), "int_acme_billing")
	if err != nil {
		t.Fatalf("expected second integration in catalog: %v", err)
	}
	if billing.Status != core.IntegrationStatusDraft {
		t.Fatalf("expected missing status to default to draft, got %s", billing.Status)
	}
}

func TestExtensionHooks_RejectsInvalidIntegrationPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	cases := []IntegrationPack{
		{Name: " "},
		{Name: "empty"},
		{Name: "no-id", Integrations: []core.Integration{{Name: "Nameless"}}},
		{Name: "dupe", Integrations: []core.Integration{{ID: "a"}, {ID: "a"}}},
	}
	for _, pack := range cases {
		if err := hooks.RegisterIntegrationPack(pack); err == nil {
			t.Fatalf("expected pack %q to be rejected", pack.Name)
		}
	}
}

func TestExtensionHooks_ApplyIntegrationPacksPropagatesWriterError(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterIntegrationPack(IntegrationPack{
		Name:         "pack",
		Integrations: []core.Integration{{ID: "int_1"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	boom := errors.New("write failed")
	err := hooks.ApplyIntegrationPacks(context.Background(), failingWriter{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected writer error, got %v", err)
	}
	if err := hooks.ApplyIntegrationPacks(context.Background(), nil); err == nil {
		t.Fatalf("expected nil writer to be rejected")
	}
}

func TestExtensionHooks_AuthStrategyPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterAuthStrategyPack(AuthStrategyPack{
		Name:       "partner",
		Strategies: []core.AuthStrategy{partnerTokenAuth{}},
	}); err != nil {
		t.Fatalf("register auth pack: %v", err)
	}
	if err := hooks.RegisterAuthStrategyPack(AuthStrategyPack{Name: "partner", Strategies: []core.AuthStrategy{partnerTokenAuth{}}}); err == nil {
		t.Fatalf("expected duplicate auth pack error")
	}

	resolver := auth.NewResolver()
	if err := hooks.ApplyAuthStrategyPacks(resolver); err != nil {
		t.Fatalf("apply auth packs: %v", err)
	}
	strategy, err := resolver.Resolve(partnerTokenAuth{}.Method())
	if err != nil {
		t.Fatalf("resolve partner strategy: %v", err)
	}
	if strategy.Method() != (partnerTokenAuth{}).Method() {
		t.Fatalf("unexpected strategy %#v", strategy)
	}
}

func TestExtensionHooks_CommandQueryBundles(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterCommandQueryBundle("billing_bundle", func(service *Service) (any, error) {
		return map[string]any{
			"record_usage_fn": service.RecordUsage,
			"list_events_fn":  service.ListEvents,
		}, nil
	}); err != nil {
		t.Fatalf("register bundle: %v", err)
	}
	if err := hooks.RegisterCommandQueryBundle("billing_bundle", func(*Service) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate bundle registration error")
	}
	if names := hooks.BundleNames(); len(names) != 1 || names[0] != "billing_bundle" {
		t.Fatalf("unexpected bundle names %v", names)
	}

	bundles, err := hooks.BuildCommandQueryBundles(newFacadeTestService(t))
	if err != nil {
		t.Fatalf("build bundles: %v", err)
	}
	if _, ok := bundles["billing_bundle"]; !ok {
		t.Fatalf("expected billing_bundle entry in built bundles")
	}
	if _, err := hooks.BuildCommandQueryBundles(nil); err == nil {
		t.Fatalf("expected nil service to be rejected")
	}
}

type failingWriter struct {
	err error
}

func (w failingWriter) Save(context.Context, core.Integration) (core.Integration, error) {
	return core.Integration{}, w.err
}

type partnerTokenAuth struct{}

func (partnerTokenAuth) Method() core.AuthMethod { return core.AuthMethod("partner_token") }

func (partnerTokenAuth) Apply(context.Context, *core.AuthRequest) error { return nil }
