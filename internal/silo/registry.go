package silo

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
)

// Region is a named silo that accepts replayed webhook requests.
type Region struct {
	Name    string
	Address string
}

// Registry resolves region names to addresses. It is built once at startup and
// never mutated afterwards.
type Registry struct {
	regions map[string]Region
}

// NewRegistry validates the configured name→address pairs.
func NewRegistry(addresses map[string]string) (*Registry, error) {
	regions := make(map[string]Region, len(addresses))
	for name, address := range addresses {
		name = strings.TrimSpace(name)
		address = strings.TrimRight(strings.TrimSpace(address), "/")
		if name == "" {
			return nil, fmt.Errorf("region name is required")
		}
		parsed, err := url.Parse(address)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("region %q has invalid address %q", name, address)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("region %q must use http or https", name)
		}
		regions[name] = Region{Name: name, Address: address}
	}
	return &Registry{regions: regions}, nil
}

// Resolve returns the region registered under name.
func (r *Registry) Resolve(name string) (Region, error) {
	if r != nil {
		if region, ok := r.regions[name]; ok {
			return region, nil
		}
	}
	return Region{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("region %q is not registered", name))
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.regions))
	for name := range r.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
