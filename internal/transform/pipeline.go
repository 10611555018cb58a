// Package transform turns a Source's raw template tree into the
// rendered tree of one Include.
//
// Every pass is total and works on a deep copy: malformed markers stay
// as literal text and the input tree is never modified. The passes run
// in a fixed order:
//
//	FilterToggles -> Cleanup -> SubstituteVariables -> Cleanup ->
//	InsertCustomFragments -> SanitizeForRenderer
//
// Toggles run before substitution so a variable referenced only inside a
// disabled region is never reported as unresolved.
package transform

import (
	"context"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/types"
)

// Options configures a Pipeline.
type Options struct {
	// UnresolvedMark is added to variable tokens without a value
	UnresolvedMark doctree.Mark
	// AlwaysKeep lists node types Cleanup never removes
	AlwaysKeep []string
	Logger     logging.Logger
}

// DefaultOptions returns the options used by Render.
func DefaultOptions() Options {
	return Options{
		UnresolvedMark: DefaultUnresolvedMark,
		AlwaysKeep:     DefaultAlwaysKeep,
		Logger:         logging.NewNop(),
	}
}

// Result is the output of one render.
type Result struct {
	Content *doctree.Node `json:"content"`
	// Unresolved lists, in first-seen order, the variables that were
	// still without a value after toggles were applied.
	Unresolved []string `json:"unresolved,omitempty"`
}

// Pipeline runs the passes with a fixed configuration. It holds no
// mutable state and is safe for concurrent use.
type Pipeline struct {
	mark   doctree.Mark
	keep   map[string]bool
	logger logging.Logger
}

// New creates a Pipeline. Zero fields of opts take their defaults.
func New(opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.UnresolvedMark.Type == "" {
		opts.UnresolvedMark = def.UnresolvedMark
	}
	if opts.AlwaysKeep == nil {
		opts.AlwaysKeep = def.AlwaysKeep
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	return &Pipeline{
		mark:   opts.UnresolvedMark,
		keep:   keepSet(opts.AlwaysKeep),
		logger: opts.Logger.WithComponent("transform"),
	}
}

var defaultPipeline = New(DefaultOptions())

// Render runs the default pipeline.
func Render(content *doctree.Node, settings types.Settings) Result {
	return defaultPipeline.Render(context.Background(), content, settings)
}

// Render applies settings to content. Custom insertion positions are
// ordinals into the paragraphs of content as given, before toggles can
// remove any of them. An insertion whose paragraph was removed lands
// after the closest earlier paragraph that survived.
func (p *Pipeline) Render(ctx context.Context, content *doctree.Node, settings types.Settings) Result {
	perf := logging.StartOperation(p.logger, "render")

	tree := doctree.Clone(content)
	if tree == nil {
		tree = doctree.NewDoc()
	}
	original := tagOrdinals(tree)

	filterToggles(tree, normalizeStates(settings.ToggleStates))
	cleanup(tree, p.keep)

	sub := &substituter{values: normalizeValues(settings.VariableValues), mark: p.mark}
	sub.apply(tree)
	cleanup(tree, p.keep)

	if len(settings.CustomInsertions) > 0 {
		ords, count := taggedOrdinals(tree, original)
		insert(tree, settings.CustomInsertions, ords, count)
	}
	sanitize(tree)

	perf.End(ctx,
		"paragraphs", original,
		"insertions", len(settings.CustomInsertions),
		"unresolved", len(sub.unresolved),
	)
	return Result{Content: tree, Unresolved: sub.unresolved}
}

// FilterToggles runs the toggle pass followed by cleanup.
func (p *Pipeline) FilterToggles(tree *doctree.Node, states map[string]bool) *doctree.Node {
	out := doctree.Clone(tree)
	filterToggles(out, normalizeStates(states))
	cleanup(out, p.keep)
	return out
}

// SubstituteVariables runs the substitution pass followed by cleanup
// and returns the unresolved variable names.
func (p *Pipeline) SubstituteVariables(tree *doctree.Node, values map[string]string) (*doctree.Node, []string) {
	out := doctree.Clone(tree)
	sub := &substituter{values: normalizeValues(values), mark: p.mark}
	sub.apply(out)
	cleanup(out, p.keep)
	return out, sub.unresolved
}
