package plunge

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyArtifact(t *testing.T) {
	tests := []struct {
		name     string
		expected ArtifactKind
	}{
		{"plot.png", ArtifactKindImage},
		{"photo.JPG", ArtifactKindImage},
		{"chart.svg", ArtifactKindImage},
		{"report.pdf", ArtifactKindPdf},
		{"data.csv", ArtifactKindTable},
		{"data.tsv", ArtifactKindTable},
		{"notes.txt", ArtifactKindText},
		{"run.log", ArtifactKindText},
		{"summary.md", ArtifactKindText},
		{"result.json", ArtifactKindText},
		{"config.yaml", ArtifactKindText},
		{"model.pkl", ArtifactKindBinary},
		{"noextension", ArtifactKindBinary},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClassifyArtifact(tc.name))
		})
	}
}

func TestCollectArtifacts(t *testing.T) {
	dir := t.TempDir()

	writeFile := func(name, content string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	writeFile("results.csv", "a,b\n1,2\n")
	writeFile("script.py", "print('hi')")
	writeFile("context_snapshot.json", `{"x": 1}`)
	writeFile("plots/figure.png", "\x89PNG fake image bytes")
	writeFile("__pycache__/mod.cpython-311.pyc", "bytecode")

	artifacts, err := CollectArtifacts(dir, CollectOptions{
		Exclude:        []string{"script.py", "context_snapshot.json"},
		IgnorePatterns: []string{"__pycache__/*"},
	})
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	// Sorted by name
	require.Equal(t, "plots/figure.png", artifacts[0].Name)
	require.Equal(t, ArtifactKindImage, artifacts[0].Kind)
	decoded, err := base64.StdEncoding.DecodeString(artifacts[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake image bytes", string(decoded))

	require.Equal(t, "results.csv", artifacts[1].Name)
	require.Equal(t, ArtifactKindTable, artifacts[1].Kind)
	assert.Equal(t, "a,b\n1,2\n", artifacts[1].Payload)
	assert.False(t, artifacts[1].Truncated)
	assert.Equal(t, int64(8), artifacts[1].Size)
}

func TestCollectArtifactsTruncatesText(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("x", 4096)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(content), 0o644))

	artifacts, err := CollectArtifacts(dir, CollectOptions{MaxTextBytes: 1024})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.True(t, artifacts[0].Truncated)
	assert.Len(t, artifacts[0].Payload, 1024)
	assert.Equal(t, int64(4096), artifacts[0].Size)
}

func TestCollectArtifactsSkipsUnreadable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("fine"), 0o644))
	require.NoError(t, os.Symlink(
		filepath.Join(dir, "missing-target"),
		filepath.Join(dir, "broken.csv")))

	artifacts, err := CollectArtifacts(dir, CollectOptions{})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "ok.txt", artifacts[0].Name)
}

func TestCollectArtifactsMissingDir(t *testing.T) {
	_, err := CollectArtifacts(filepath.Join(t.TempDir(), "nope"), CollectOptions{})
	require.Error(t, err)
}
