package evidence

import (
	"testing"
	"time"

	"witnessd/internal/anchors"
)

func TestNewAnchorManager(t *testing.T) {
	mgr := NewAnchorManager(nil)
	if mgr == nil {
		t.Fatal("expected non-nil manager")
	}

	registry := anchors.NewRegistryWithConfig(anchors.RegistryConfig{})
	mgr2 := NewAnchorManager(registry)
	if mgr2 == nil {
		t.Fatal("expected non-nil manager")
	}
}

func TestAnchorManagerSetTimeout(t *testing.T) {
	mgr := NewAnchorManager(nil)

	mgr.SetTimeout(60 * time.Second)
	if mgr.timeout != 60*time.Second {
		t.Errorf("expected 60s timeout, got %v", mgr.timeout)
	}
}

func TestAnchorManagerEnabledTypesEmptyByDefault(t *testing.T) {
	registry := anchors.NewRegistryWithConfig(anchors.RegistryConfig{})
	mgr := NewAnchorManager(registry)

	enabled := mgr.EnabledTypes()
	if len(enabled) != 0 {
		t.Errorf("expected 0 enabled anchor types, got %d", len(enabled))
	}
}

func TestAnchorManagerEnable(t *testing.T) {
	registry := anchors.NewRegistryWithConfig(anchors.RegistryConfig{
		EnableOTS: true,
	})
	mgr := NewAnchorManager(registry)

	if err := mgr.Enable(anchors.TypeOTS); err != nil {
		t.Fatalf("failed to enable anchor: %v", err)
	}

	enabled := mgr.EnabledTypes()
	if len(enabled) != 1 {
		t.Errorf("expected 1 enabled anchor type, got %d", len(enabled))
	}
}

func TestAnchorManagerEnableUnknownType(t *testing.T) {
	registry := anchors.NewRegistryWithConfig(anchors.RegistryConfig{})
	mgr := NewAnchorManager(registry)

	if err := mgr.Enable(anchors.AnchorType("nonexistent")); err == nil {
		t.Error("expected error for nonexistent anchor type")
	}
}
