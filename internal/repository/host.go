package repository

import (
	"context"
	"time"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/types"
)

// Document is a page on the remote host a Source is authored in.
type Document struct {
	ID        string
	Title     string
	Content   *doctree.Node
	UpdatedAt time.Time
}

// DocumentHost reads and writes documents on the remote host. The host
// is the source of truth for a Source's content; SourceRef names the
// document.
type DocumentHost interface {
	ReadDocument(ctx context.Context, id string) (*Document, error)
	WriteDocument(ctx context.Context, doc *Document) error
}

// PullSource copies the host document of a Source into the repository.
// The Source's updatedAt moves only when the content differs.
func (r *Repository) PullSource(ctx context.Context, host DocumentHost, sourceID string) (*types.Source, error) {
	src, err := r.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.SourceRef == "" {
		return nil, errors.NewFieldValidationError("sourceRef", src.SourceRef, "source has no host document")
	}
	doc, err := host.ReadDocument(ctx, src.SourceRef)
	if err != nil {
		return nil, errors.NewTransportError("reading host document", err).WithID(sourceID)
	}
	next := *src
	next.Content = doc.Content
	if next.Name == "" {
		next.Name = doc.Title
	}
	return r.PutSource(ctx, &next)
}

// PushSource writes a Source's content back to its host document.
func (r *Repository) PushSource(ctx context.Context, host DocumentHost, sourceID string) error {
	src, err := r.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if src.SourceRef == "" {
		return errors.NewFieldValidationError("sourceRef", src.SourceRef, "source has no host document")
	}
	doc := &Document{ID: src.SourceRef, Title: src.Name, Content: src.Content, UpdatedAt: src.UpdatedAt}
	if err := host.WriteDocument(ctx, doc); err != nil {
		return errors.NewTransportError("writing host document", err).WithID(sourceID)
	}
	r.logger.Debug(ctx, "Source pushed to host", "source_id", sourceID, "document", src.SourceRef)
	return nil
}
