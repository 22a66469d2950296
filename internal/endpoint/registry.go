package endpoint

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Descriptor describes one queryable backend resource.
type Descriptor struct {
	Key         string `yaml:"key"`
	URLTemplate string `yaml:"url"`
	Method      string `yaml:"method"`
}

// Registry holds the endpoint descriptors known to the process. It is
// populated at startup and only read afterwards.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds d to the registry. Keys are unique; registering the same key
// twice returns a *DuplicateKeyError.
func (r *Registry) Register(d Descriptor) error {
	d.Key = strings.TrimSpace(d.Key)
	if d.Key == "" {
		return fmt.Errorf("endpoint key is required")
	}
	if d.URLTemplate == "" {
		return fmt.Errorf("endpoint %q: url template is required", d.Key)
	}
	if d.Method == "" {
		d.Method = http.MethodGet
	}
	d.Method = strings.ToUpper(d.Method)
	if d.Method != http.MethodGet {
		return fmt.Errorf("endpoint %q: unsupported method %s", d.Key, d.Method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Key]; exists {
		return &DuplicateKeyError{Key: d.Key}
	}
	r.descriptors[d.Key] = d
	return nil
}

// RegisterAll registers every descriptor and stops at the first failure.
func (r *Registry) RegisterAll(descriptors []Descriptor) error {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Resolve(key string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[key]
	if !ok {
		return Descriptor{}, &UnknownEndpointError{Key: key}
	}
	return d, nil
}

// Keys returns the registered endpoint keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.descriptors))
	for k := range r.descriptors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultDescriptors returns the analytics resources served by the backend API.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{Key: "events", URLTemplate: "/api/getEventsData", Method: http.MethodGet},
		{Key: "pages", URLTemplate: "/api/getPagesData", Method: http.MethodGet},
		{Key: "referrers", URLTemplate: "/api/getReferrerData", Method: http.MethodGet},
		{Key: "traffic", URLTemplate: "/api/getTrafficData", Method: http.MethodGet},
	}
}
