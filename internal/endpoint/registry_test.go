package endpoint

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{Key: "events", URLTemplate: "/api/getEventsData"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	d, err := r.Resolve("events")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if d.URLTemplate != "/api/getEventsData" {
		t.Errorf("unexpected template %q", d.URLTemplate)
	}
	if d.Method != "GET" {
		t.Errorf("expected method to default to GET, got %q", d.Method)
	}
}

func TestRegisterDuplicateKey(t *testing.T) {
	r := NewRegistry()
	d := Descriptor{Key: "pages", URLTemplate: "/api/getPagesData"}
	if err := r.Register(d); err != nil {
		t.Fatal(err)
	}

	err := r.Register(d)
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	if dup.Key != "pages" {
		t.Errorf("expected key pages, got %q", dup.Key)
	}
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope")
	var unknown *UnknownEndpointError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownEndpointError, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{"empty key", Descriptor{URLTemplate: "/api/x"}},
		{"empty template", Descriptor{Key: "x"}},
		{"post method", Descriptor{Key: "x", URLTemplate: "/api/x", Method: "POST"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegistry().Register(tt.d); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDefaultsRegisterCleanly(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAll(DefaultDescriptors()); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	want := []string{"events", "pages", "referrers", "traffic"}
	if got := r.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	content := `endpoints:
  - key: events
    url: /api/getEventsData
  - key: sessions
    url: /api/sites/{site}/sessions
    method: get
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	descs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}

	r := NewRegistry()
	if err := r.RegisterAll(descs); err != nil {
		t.Fatal(err)
	}
	d, err := r.Resolve("sessions")
	if err != nil {
		t.Fatal(err)
	}
	if d.Method != "GET" {
		t.Errorf("expected normalized method GET, got %q", d.Method)
	}
}

func TestLoadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	if err := os.WriteFile(path, []byte("endpoints: []\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for empty endpoint list")
	}
}
