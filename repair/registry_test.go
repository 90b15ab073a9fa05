package repair

import (
	"context"
	"testing"

	"github.com/deepnoodle-ai/plunge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepairer struct {
	name string
}

func (s *stubRepairer) Fix(ctx context.Context, req plunge.RepairRequest) (*plunge.RepairResult, error) {
	return &plunge.RepairResult{FixedCode: "pass\n"}, nil
}

func stubFactory(name string, calls *[]string) Factory {
	return func(model, endpoint string) plunge.Repairer {
		*calls = append(*calls, name+":"+model)
		return &stubRepairer{name: name}
	}
}

func TestRegistryMatchOrder(t *testing.T) {
	var calls []string
	registry := &Registry{}
	registry.Register(Entry{
		Name:    "specific",
		Match:   PrefixMatcher("gpt-4o-mini"),
		Factory: stubFactory("specific", &calls),
	})
	registry.Register(Entry{
		Name:    "general",
		Match:   PrefixMatcher("gpt-"),
		Factory: stubFactory("general", &calls),
	})

	repairer := registry.Create("gpt-4o-mini", "")
	require.NotNil(t, repairer)
	assert.Equal(t, []string{"specific:gpt-4o-mini"}, calls)

	calls = nil
	repairer = registry.Create("gpt-4o", "")
	require.NotNil(t, repairer)
	assert.Equal(t, []string{"general:gpt-4o"}, calls)
}

func TestRegistryFallback(t *testing.T) {
	var calls []string
	registry := &Registry{}
	registry.Register(Entry{
		Name:    "google",
		Match:   PrefixMatcher("gemini-"),
		Factory: stubFactory("google", &calls),
	})

	assert.Nil(t, registry.Create("mystery-model", ""))

	registry.SetFallback(stubFactory("fallback", &calls))
	repairer := registry.Create("mystery-model", "")
	require.NotNil(t, repairer)
	assert.Equal(t, []string{"fallback:mystery-model"}, calls)
}

func TestRegistryEntries(t *testing.T) {
	var calls []string
	registry := &Registry{}
	registry.Register(Entry{Name: "a", Match: PrefixMatcher("a-"), Factory: stubFactory("a", &calls)})
	registry.Register(Entry{Name: "b", Match: PrefixMatcher("b-"), Factory: stubFactory("b", &calls)})

	entries := registry.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "b", entries[1].Name)
}

func TestPrefixMatchers(t *testing.T) {
	match := PrefixMatcher("Gemini-")
	assert.True(t, match("gemini-2.0-flash"))
	assert.True(t, match("GEMINI-2.0-PRO"))
	assert.False(t, match("gpt-4o"))

	multi := PrefixesMatcher("gpt-", "o1", "chatgpt-")
	assert.True(t, multi("gpt-4.1"))
	assert.True(t, multi("O1-preview"))
	assert.True(t, multi("chatgpt-4o-latest"))
	assert.False(t, multi("gemini-2.0-flash"))
}

func TestDefaultRegistryRouting(t *testing.T) {
	repairer := Create("gpt-4o", "")
	require.NotNil(t, repairer)
	openAI, ok := repairer.(*OpenAIRepairer)
	require.True(t, ok)
	assert.Equal(t, "openai/gpt-4o", openAI.Name())

	repairer = Create("gemini-2.0-flash", "")
	require.NotNil(t, repairer)
	google, ok := repairer.(*GoogleRepairer)
	require.True(t, ok)
	assert.Equal(t, "google/gemini-2.0-flash", google.Name())

	// Unknown models fall back to OpenAI.
	repairer = Create("mystery-model", "")
	require.NotNil(t, repairer)
	_, ok = repairer.(*OpenAIRepairer)
	assert.True(t, ok)
}
