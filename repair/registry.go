package repair

import (
	"strings"
	"sync"

	"github.com/deepnoodle-ai/plunge"
)

// Factory creates a repairer for a given model name and optional endpoint.
type Factory func(model, endpoint string) plunge.Repairer

// ModelMatcher reports whether a model name belongs to a provider.
type ModelMatcher func(model string) bool

// Entry pairs a matcher with its factory.
type Entry struct {
	Name    string
	Match   ModelMatcher
	Factory Factory
}

// Registry maps model names to repairer factories. Entries are checked
// in registration order, so register more specific matchers before more
// general ones.
type Registry struct {
	mu       sync.RWMutex
	entries  []Entry
	fallback Factory
}

// Register adds an entry to the registry.
func (r *Registry) Register(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// SetFallback sets the factory used when no matcher matches.
func (r *Registry) SetFallback(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = factory
}

// Create returns a repairer for the given model name. It returns nil
// when no entry matches and no fallback is set.
func (r *Registry) Create(model, endpoint string) plunge.Repairer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.Match(model) {
			return entry.Factory(model, endpoint)
		}
	}
	if r.fallback != nil {
		return r.fallback(model, endpoint)
	}
	return nil
}

// Entries returns a copy of all registered entries.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

// PrefixMatcher returns a matcher that checks for a case-insensitive prefix.
func PrefixMatcher(prefix string) ModelMatcher {
	prefix = strings.ToLower(prefix)
	return func(model string) bool {
		return strings.HasPrefix(strings.ToLower(model), prefix)
	}
}

// PrefixesMatcher returns a matcher that checks for any of the given
// prefixes (case-insensitive).
func PrefixesMatcher(prefixes ...string) ModelMatcher {
	lowered := make([]string, len(prefixes))
	for i, p := range prefixes {
		lowered[i] = strings.ToLower(p)
	}
	return func(model string) bool {
		lower := strings.ToLower(model)
		for _, prefix := range lowered {
			if strings.HasPrefix(lower, prefix) {
				return true
			}
		}
		return false
	}
}

var defaultRegistry = &Registry{}

func init() {
	defaultRegistry.Register(Entry{
		Name:    "openai",
		Match:   PrefixesMatcher("gpt-", "o1", "o3", "o4", "chatgpt-"),
		Factory: openAIFactory,
	})
	defaultRegistry.Register(Entry{
		Name:    "google",
		Match:   PrefixMatcher("gemini-"),
		Factory: googleFactory,
	})
	defaultRegistry.SetFallback(openAIFactory)
}

func openAIFactory(model, endpoint string) plunge.Repairer {
	return NewOpenAIRepairer(OpenAIOptions{Model: model, BaseURL: endpoint})
}

// googleFactory ignores the endpoint. The Gemini client is configured
// through its API key, project, and location instead.
func googleFactory(model, endpoint string) plunge.Repairer {
	return NewGoogleRepairer(GoogleOptions{Model: model})
}

// Register adds an entry to the default registry.
func Register(entry Entry) {
	defaultRegistry.Register(entry)
}

// SetFallback sets the fallback factory on the default registry.
func SetFallback(factory Factory) {
	defaultRegistry.SetFallback(factory)
}

// Create returns a repairer for the given model using the default registry.
func Create(model, endpoint string) plunge.Repairer {
	return defaultRegistry.Create(model, endpoint)
}

// DefaultRegistry returns the default global registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
