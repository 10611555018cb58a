package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/types"
)

// SourceFile is the YAML form of a Source, optionally with Includes
// referencing it. Content is either a plain string, one paragraph per
// line, or a document tree mapping.
//
//	id: welcome
//	name: Welcome
//	content: |
//	  Hello {{name}}, {{toggle:vip}}you get VIP access{{/toggle:vip}}!
//	includes:
//	  - localId: team-page
//	    variableValues: {name: Ana}
type SourceFile struct {
	ID        string              `yaml:"id"`
	Name      string              `yaml:"name"`
	Category  string              `yaml:"category"`
	SourceRef string              `yaml:"sourceRef"`
	Variables []types.VariableDef `yaml:"variables"`
	Toggles   []types.ToggleDef   `yaml:"toggles"`
	Content   yaml.Node           `yaml:"content"`
	Includes  []IncludeFile       `yaml:"includes"`
}

// IncludeFile is the YAML form of an Include.
type IncludeFile struct {
	LocalID        string `yaml:"localId"`
	types.Settings `yaml:",inline"`
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	Source   *types.Source
	Includes []string
}

// IsSourceFile reports whether path has an extension ImportFile reads.
func IsSourceFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// SourceIDForPath derives the default Source id of a file.
func SourceIDForPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ImportFile reads a Source file and stores its Source and Includes.
// A file without an id uses its base name.
func (r *Repository) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}
	return r.Import(ctx, data, SourceIDForPath(path))
}

// Import decodes a Source file from data. An existing Source keeps its
// updatedAt unless the content changed; existing Includes keep their
// cache and lastSynced and only take the settings from the file.
func (r *Repository) Import(ctx context.Context, data []byte, defaultID string) (*ImportResult, error) {
	file, err := ParseSourceFile(data)
	if err != nil {
		return nil, err
	}
	if file.ID == "" {
		file.ID = defaultID
	}
	content, err := decodeContent(&file.Content)
	if err != nil {
		return nil, err
	}
	name := file.Name
	if name == "" {
		name = file.ID
	}

	src, err := r.PutSource(ctx, &types.Source{
		ID:        file.ID,
		Name:      name,
		Category:  file.Category,
		SourceRef: file.SourceRef,
		Content:   content,
		Variables: file.Variables,
		Toggles:   file.Toggles,
	})
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Source: src}
	for _, f := range file.Includes {
		localID := f.LocalID
		if localID == "" {
			localID = NewLocalID()
		}
		inc, err := r.GetInclude(ctx, localID)
		if errors.IsNotFound(err) {
			inc, err = &types.Include{LocalID: localID}, nil
		}
		if err != nil {
			return nil, err
		}
		inc.ExcerptID = src.ID
		inc.Settings = f.Settings.Clone()
		if err := r.SaveInclude(ctx, inc); err != nil {
			return nil, err
		}
		res.Includes = append(res.Includes, localID)
	}

	r.logger.Info(ctx, "Imported source file", "source_id", src.ID, "includes", len(res.Includes))
	return res, nil
}

// ParseSourceFile decodes the YAML form of a Source.
func ParseSourceFile(data []byte) (*SourceFile, error) {
	var file SourceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding source file: %w", err)
	}
	return &file, nil
}

func decodeContent(n *yaml.Node) (*doctree.Node, error) {
	switch n.Kind {
	case 0:
		return doctree.NewDoc(), nil
	case yaml.ScalarNode:
		return doctree.FromText(n.Value), nil
	case yaml.MappingNode:
		var tree doctree.Node
		if err := n.Decode(&tree); err != nil {
			return nil, fmt.Errorf("decoding content tree: %w", err)
		}
		if tree.Type == "" {
			tree.Type = doctree.TypeDoc
		}
		return &tree, nil
	default:
		return nil, fmt.Errorf("decoding content: line %d: expected text or a document tree", n.Line)
	}
}
