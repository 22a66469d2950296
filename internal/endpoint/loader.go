package endpoint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type endpointsFile struct {
	Endpoints []Descriptor `yaml:"endpoints"`
}

// LoadFile reads endpoint descriptors from a YAML file of the form
//
//	endpoints:
//	  - key: events
//	    url: /api/getEventsData
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading endpoints file: %w", err)
	}

	var f endpointsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing endpoints file %s: %w", path, err)
	}
	if len(f.Endpoints) == 0 {
		return nil, fmt.Errorf("endpoints file %s defines no endpoints", path)
	}
	return f.Endpoints, nil
}
