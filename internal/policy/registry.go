package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mtzanidakis/epoptis/internal/action"
)

// Registry holds the loaded policies and hands them out by name. It
// is safe for concurrent use; LoadDir swaps the whole set atomically
// so a reload with a broken file keeps the previous policies.
type Registry struct {
	mu          sync.RWMutex
	policies    map[string]*Policy
	defaultName string
}

// NewRegistry returns an empty registry. defaultName is the policy
// Resolve falls back to before the built-in default.
func NewRegistry(defaultName string) *Registry {
	if defaultName == "" {
		defaultName = "default"
	}
	return &Registry{
		policies:    make(map[string]*Policy),
		defaultName: defaultName,
	}
}

// LoadDir reads every .yml/.yaml file in dir as one policy. A missing
// directory is not an error; a policy that fails validation is. On
// any error the previously loaded set stays in place.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("policy directory not found, using built-in default", "dir", dir)
			return nil
		}
		return fmt.Errorf("read policy dir: %w", err)
	}

	loaded := make(map[string]*Policy)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		p, err := loadFile(path)
		if err != nil {
			return fmt.Errorf("policy %s: %w", entry.Name(), err)
		}
		if _, dup := loaded[p.Name]; dup {
			return fmt.Errorf("policy %s: duplicate policy name %q", entry.Name(), p.Name)
		}
		loaded[p.Name] = p
	}

	r.mu.Lock()
	r.policies = loaded
	r.mu.Unlock()

	slog.Info("policies loaded", "dir", dir, "count", len(loaded))
	return nil
}

func loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Add validates and registers a policy, replacing any policy with the
// same name.
func (r *Registry) Add(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.policies[p.Name] = p
	r.mu.Unlock()
	return nil
}

// Get returns the policy with the given name, or nil.
func (r *Registry) Get(name string) *Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[name]
}

// Resolve returns the policy for name, falling back to the configured
// default and then the built-in default. It never returns nil.
func (r *Registry) Resolve(name string) *Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		if p, ok := r.policies[name]; ok {
			return p
		}
		slog.Warn("unknown policy, falling back to default", "policy", name, "default", r.defaultName)
	}
	if p, ok := r.policies[r.defaultName]; ok {
		return p
	}
	return builtinDefault()
}

// Names returns the loaded policy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinDefault is the policy of last resort: no symbolic
// restrictions beyond the loop detector, and a bare wait as fallback
// so an exhausted validation pauses instead of terminating.
func builtinDefault() *Policy {
	return &Policy{
		Name:        "default",
		Description: "built-in default: loop detection only, wait on exhaustion",
		FallbackActions: []Blueprint{
			{ActionType: action.TypeWait, Reasoning: "No validated actions available, waiting for page to settle"},
		},
	}
}
