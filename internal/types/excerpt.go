// Package types defines the persisted records shared by the excerpt
// packages: Sources, the Includes that render them, and the settings an
// Include applies.
package types

import (
	"time"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
)

// Source is the single authoritative template document that Includes
// render.
type Source struct {
	// ID is the stable identifier Includes reference through ExcerptID
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable title shown to curators
	Name string `json:"name" yaml:"name"`
	// Category groups Sources for browsing
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	// Content is the raw template tree, markers included
	Content *doctree.Node `json:"content" yaml:"-"`
	// Variables is the detected variable schema with curator metadata
	Variables []VariableDef `json:"variables" yaml:"variables,omitempty"`
	// Toggles is the detected toggle schema with curator metadata
	Toggles []ToggleDef `json:"toggles" yaml:"toggles,omitempty"`
	// UpdatedAt is bumped on every content edit and drives staleness
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt,omitempty"`
	// SourceRef points at the host document the Source was authored in
	SourceRef string `json:"sourceRef,omitempty" yaml:"sourceRef,omitempty"`
}

// VariableDef describes one substitution point of a Source.
type VariableDef struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Example     string `json:"example,omitempty" yaml:"example,omitempty"`
}

// ToggleDef describes one optional region of a Source.
type ToggleDef struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CustomInsertion is an ad-hoc paragraph an Include adds after the
// paragraph at Position. Position is an ordinal into the top-level
// paragraphs of the Source's original content.
type CustomInsertion struct {
	Position int    `json:"position" yaml:"position"`
	Text     string `json:"text" yaml:"text"`
}

// Settings is everything an Include applies to its Source when
// rendering.
type Settings struct {
	VariableValues   map[string]string `json:"variableValues,omitempty" yaml:"variableValues,omitempty"`
	ToggleStates     map[string]bool   `json:"toggleStates,omitempty" yaml:"toggleStates,omitempty"`
	CustomInsertions []CustomInsertion `json:"customInsertions,omitempty" yaml:"customInsertions,omitempty"`
}

// Clone returns a copy of s that shares no maps or slices with it.
func (s Settings) Clone() Settings {
	out := Settings{}
	if s.VariableValues != nil {
		out.VariableValues = make(map[string]string, len(s.VariableValues))
		for k, v := range s.VariableValues {
			out.VariableValues[k] = v
		}
	}
	if s.ToggleStates != nil {
		out.ToggleStates = make(map[string]bool, len(s.ToggleStates))
		for k, v := range s.ToggleStates {
			out.ToggleStates[k] = v
		}
	}
	if s.CustomInsertions != nil {
		out.CustomInsertions = append([]CustomInsertion(nil), s.CustomInsertions...)
	}
	return out
}

// Include is one parameterized rendering of a Source at a location.
type Include struct {
	// LocalID is the stable per-location key
	LocalID string `json:"localId"`
	// ExcerptID references Source.ID
	ExcerptID string `json:"excerptId"`
	Settings
	// CachedContent is the last rendered tree; a cache, never a source of truth
	CachedContent *doctree.Node `json:"cachedContent,omitempty"`
	// LastSynced is when CachedContent was last brought up to date with the Source
	LastSynced time.Time `json:"lastSynced"`
	// SettingsHash fingerprints the Settings that produced CachedContent
	SettingsHash string `json:"settingsHash,omitempty"`
	// ContentHash fingerprints CachedContent
	ContentHash string `json:"contentHash,omitempty"`
	// CachedAt is when CachedContent was written
	CachedAt time.Time `json:"cachedAt,omitempty"`
}

// HasCache reports whether a render has been stored for the Include.
func (inc *Include) HasCache() bool {
	return inc != nil && inc.CachedContent != nil
}

// Validate checks the fields a Source must carry to be saved.
func (s *Source) Validate() *errors.ValidationErrorCollection {
	vec := &errors.ValidationErrorCollection{}
	if s.ID == "" {
		vec.AddField("id", s.ID, "must not be empty")
	}
	if s.Name == "" {
		vec.AddField("name", s.Name, "must not be empty")
	}
	if s.Content == nil {
		vec.AddField("content", nil, "must not be empty")
	} else if s.Content.Type != doctree.TypeDoc {
		vec.AddField("content", s.Content.Type, "root node must be of type doc")
	}
	seen := make(map[string]bool, len(s.Variables))
	for _, v := range s.Variables {
		if seen[v.Name] {
			vec.AddField("variables", v.Name, "duplicate variable name")
		}
		seen[v.Name] = true
	}
	return vec
}

// Validate checks the fields an Include must carry to be saved.
func (inc *Include) Validate() *errors.ValidationErrorCollection {
	vec := &errors.ValidationErrorCollection{}
	if inc.LocalID == "" {
		vec.AddField("localId", inc.LocalID, "must not be empty")
	}
	if inc.ExcerptID == "" {
		vec.AddField("excerptId", inc.ExcerptID, "must not be empty")
	}
	for _, ins := range inc.CustomInsertions {
		if ins.Position < 0 {
			vec.AddField("customInsertions", ins.Position, "position must not be negative")
		}
	}
	return vec
}

// EventType represents the type of a record change event.
type EventType string

const (
	EventSourceUpdated EventType = "source.updated"
	EventSourceDeleted EventType = "source.deleted"
	EventIncludeSynced EventType = "include.synced"
	EventIncludeSaved  EventType = "include.saved"
)

// Event announces a change to a Source or Include to subscribers such
// as the websocket hub.
type Event struct {
	Type      EventType `json:"type"`
	SourceID  string    `json:"sourceId,omitempty"`
	LocalID   string    `json:"localId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
