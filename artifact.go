package plunge

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deepnoodle-ai/plunge/log"
	"github.com/gobwas/glob"
)

// ArtifactKind classifies a collected output file
type ArtifactKind string

const (
	ArtifactKindImage  ArtifactKind = "image"
	ArtifactKindPdf    ArtifactKind = "pdf"
	ArtifactKindTable  ArtifactKind = "table"
	ArtifactKindText   ArtifactKind = "text"
	ArtifactKindBinary ArtifactKind = "binary"
)

// DefaultMaxTextBytes bounds the preview payload of text artifacts.
const DefaultMaxTextBytes = 100 * 1024

// Artifact is a typed output file produced by a sandboxed execution.
// Text and table payloads are UTF-8 previews; image, pdf, and binary
// payloads are base64-encoded.
type Artifact struct {
	Kind      ArtifactKind `json:"kind"`
	Name      string       `json:"name"`
	Payload   string       `json:"payload,omitempty"`
	Size      int64        `json:"size"`
	Truncated bool         `json:"truncated,omitempty"`
}

// CollectOptions controls artifact collection from an output directory.
type CollectOptions struct {
	// Exclude lists exact names to skip, matched against both the base
	// name and the path relative to the collection root.
	Exclude []string

	// IgnorePatterns are glob patterns matched against relative paths.
	IgnorePatterns []string

	// MaxTextBytes caps text and table payloads. Zero means the default.
	MaxTextBytes int

	Logger log.Logger
}

var artifactKinds = map[string]ArtifactKind{
	".png":  ArtifactKindImage,
	".jpg":  ArtifactKindImage,
	".jpeg": ArtifactKindImage,
	".svg":  ArtifactKindImage,
	".gif":  ArtifactKindImage,
	".pdf":  ArtifactKindPdf,
	".csv":  ArtifactKindTable,
	".tsv":  ArtifactKindTable,
	".txt":  ArtifactKindText,
	".log":  ArtifactKindText,
	".md":   ArtifactKindText,
	".json": ArtifactKindText,
	".yaml": ArtifactKindText,
	".yml":  ArtifactKindText,
	".xml":  ArtifactKindText,
}

// ClassifyArtifact returns the artifact kind for a file name, using its
// extension. Unknown extensions classify as binary.
func ClassifyArtifact(name string) ArtifactKind {
	ext := strings.ToLower(filepath.Ext(name))
	if kind, ok := artifactKinds[ext]; ok {
		return kind
	}
	return ArtifactKindBinary
}

// CollectArtifacts walks dir and returns one artifact per collectable
// file, sorted by name. Unreadable entries are skipped with a warning
// rather than failing the collection. The error return is reserved for a
// missing or unreadable root directory.
func CollectArtifacts(dir string, opts CollectOptions) ([]Artifact, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	maxText := opts.MaxTextBytes
	if maxText <= 0 {
		maxText = DefaultMaxTextBytes
	}

	excluded := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		excluded[name] = true
	}

	var ignores []glob.Glob
	for _, pattern := range opts.IgnorePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			logger.Warn("skipping invalid ignore pattern",
				"pattern", pattern, "error", err)
			continue
		}
		ignores = append(ignores, g)
	}

	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("artifact directory unavailable: %w", err)
	}

	var artifacts []Artifact
	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("skipping unreadable entry", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = entry.Name()
		}
		rel = filepath.ToSlash(rel)
		if excluded[rel] || excluded[entry.Name()] {
			return nil
		}
		for _, g := range ignores {
			if g.Match(rel) {
				return nil
			}
		}
		artifact, err := readArtifact(path, rel, maxText)
		if err != nil {
			logger.Warn("skipping unreadable artifact", "path", rel, "error", err)
			return nil
		}
		artifacts = append(artifacts, artifact)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("artifact walk failed: %w", walkErr)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})
	return artifacts, nil
}

func readArtifact(path, name string, maxText int) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{
		Kind: ClassifyArtifact(name),
		Name: name,
		Size: int64(len(data)),
	}
	switch artifact.Kind {
	case ArtifactKindTable, ArtifactKindText:
		if len(data) > maxText {
			data = data[:maxText]
			artifact.Truncated = true
		}
		artifact.Payload = string(data)
	default:
		artifact.Payload = base64.StdEncoding.EncodeToString(data)
	}
	return artifact, nil
}
