package backend

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// ErrNoServices is returned when Load is given an empty service map.
var ErrNoServices = errors.New("no backend services configured")

// Service is a named backend.
type Service struct {
	Name    string
	BaseURL *url.URL
}

type snapshot map[string]*Service

// Registry resolves service names to backends. Reads are lock free.
type Registry struct {
	services atomic.Pointer[snapshot]
	logger   observability.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Registry{logger: logger}
	r.services.Store(&snapshot{})
	return r
}

// Load parses services and swaps them in. On error the previous map stays.
func (r *Registry) Load(services map[string]string) error {
	if len(services) == 0 {
		return ErrNoServices
	}

	next := make(snapshot, len(services))
	for name, raw := range services {
		u, err := ParseBaseURL(raw)
		if err != nil {
			return fmt.Errorf("service %s: %w", name, err)
		}
		next[name] = &Service{Name: name, BaseURL: u}
	}

	prev := r.services.Swap(&next)

	added, removed := diff(*prev, next)
	r.logger.Info("backend services loaded",
		observability.Int("count", len(next)),
		observability.Any("added", added),
		observability.Any("removed", removed),
	)
	return nil
}

// Lookup returns the service registered under name.
func (r *Registry) Lookup(name string) (*Service, bool) {
	s, ok := (*r.services.Load())[name]
	return s, ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	current := *r.services.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(*r.services.Load())
}

// ParseBaseURL validates an absolute http(s) base URL and drops any
// trailing slash from its path.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func diff(prev, next snapshot) (added, removed []string) {
	for name := range next {
		if _, ok := prev[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
