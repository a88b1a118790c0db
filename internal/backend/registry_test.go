package backend_test

import (
	"context"
	"testing"

	"github.com/seantiz/beamlab/internal/backend"
	"github.com/seantiz/beamlab/internal/model"
)

// stubBackend is a minimal Backend for registry tests.
type stubBackend struct {
	name  string
	venue model.Venue
}

func (s *stubBackend) Execute(_ context.Context, _ *model.AnalysisInput, _ backend.Reporter) (backend.RawResult, error) {
	return backend.RawResult{}, nil
}

func (s *stubBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: s.name, Venue: s.venue}
}

// Compile-time check that stubBackend satisfies the Backend interface.
var _ backend.Backend = (*stubBackend)(nil)

func TestRegistryRegisterAndList(t *testing.T) {
	reg := backend.NewRegistry()

	reg.Register(model.VenueRemote, &stubBackend{name: "cloud", venue: model.VenueRemote})
	reg.Register(model.VenueLocal, &stubBackend{name: "kernel", venue: model.VenueLocal})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d backends, want 2", len(list))
	}
	if list[0].Venue != model.VenueLocal || list[1].Venue != model.VenueRemote {
		t.Errorf("List() order = [%s %s], want [local remote]", list[0].Venue, list[1].Venue)
	}
	if list[0].Capabilities.Name != "kernel" {
		t.Errorf("local backend name = %q, want kernel", list[0].Capabilities.Name)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(model.VenueLocal, &stubBackend{name: "kernel", venue: model.VenueLocal})

	b, err := reg.Resolve(model.VenueLocal)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Capabilities().Name != "kernel" {
		t.Errorf("resolved backend name = %q, want %q", b.Capabilities().Name, "kernel")
	}
}

func TestRegistryResolveNotRegistered(t *testing.T) {
	reg := backend.NewRegistry()

	if _, err := reg.Resolve(model.VenueRemote); err == nil {
		t.Error("expected error for unregistered venue, got nil")
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(model.VenueLocal, &stubBackend{name: "first"})
	reg.Register(model.VenueLocal, &stubBackend{name: "second"})

	b, err := reg.Resolve(model.VenueLocal)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Capabilities().Name != "second" {
		t.Errorf("resolved backend name = %q, want second", b.Capabilities().Name)
	}
}
