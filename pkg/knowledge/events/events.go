// Package events provides knowledge.EventSink implementations: structured
// logging, Prometheus counters, CloudEvents delivery and a fan-out.
package events

import (
	"context"
	"errors"

	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// Event types, also used as CloudEvents "type" attributes.
const (
	TypeUploaded   = "io.simpleknowledge.package.uploaded"
	TypeApproved   = "io.simpleknowledge.package.approved"
	TypeRejected   = "io.simpleknowledge.package.rejected"
	TypeDownloaded = "io.simpleknowledge.package.downloaded"
	TypeVoted      = "io.simpleknowledge.package.voted"
)

// Payload is the body carried by every event.
type Payload struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Framework  string `json:"framework,omitempty"`
	Status     string `json:"status"`
	FileHash   string `json:"file_hash"`
	ReviewNote string `json:"review_note,omitempty"`
	Direction  string `json:"direction,omitempty"`
}

func newPayload(pkg *knowledge.Package) Payload {
	return Payload{
		ID:         pkg.ID,
		Name:       pkg.Name,
		Category:   pkg.Category,
		Framework:  pkg.Framework,
		Status:     string(pkg.Status),
		FileHash:   pkg.FileHash,
		ReviewNote: pkg.ReviewNote,
	}
}

// publisher is the single method each sink implements; adapt turns it into
// a full knowledge.EventSink.
type publisher interface {
	publish(ctx context.Context, eventType string, p Payload) error
}

type adapter struct {
	publisher
}

func (a adapter) PackageUploaded(ctx context.Context, pkg *knowledge.Package) error {
	return a.publish(ctx, TypeUploaded, newPayload(pkg))
}

func (a adapter) PackageApproved(ctx context.Context, pkg *knowledge.Package) error {
	return a.publish(ctx, TypeApproved, newPayload(pkg))
}

func (a adapter) PackageRejected(ctx context.Context, pkg *knowledge.Package) error {
	return a.publish(ctx, TypeRejected, newPayload(pkg))
}

func (a adapter) PackageDownloaded(ctx context.Context, pkg *knowledge.Package) error {
	return a.publish(ctx, TypeDownloaded, newPayload(pkg))
}

func (a adapter) VoteRecorded(ctx context.Context, pkg *knowledge.Package, dir knowledge.VoteDirection) error {
	p := newPayload(pkg)
	p.Direction = string(dir)
	return a.publish(ctx, TypeVoted, p)
}

// Multi delivers every event to all sinks and joins their errors.
type Multi []knowledge.EventSink

// NewMulti drops nil sinks.
func NewMulti(sinks ...knowledge.EventSink) Multi {
	m := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m Multi) each(fn func(knowledge.EventSink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PackageUploaded(ctx context.Context, pkg *knowledge.Package) error {
	return m.each(func(s knowledge.EventSink) error { return s.PackageUploaded(ctx, pkg) })
}

func (m Multi) PackageApproved(ctx context.Context, pkg *knowledge.Package) error {
	return m.each(func(s knowledge.EventSink) error { return s.PackageApproved(ctx, pkg) })
}

func (m Multi) PackageRejected(ctx context.Context, pkg *knowledge.Package) error {
	return m.each(func(s knowledge.EventSink) error { return s.PackageRejected(ctx, pkg) })
}

func (m Multi) PackageDownloaded(ctx context.Context, pkg *knowledge.Package) error {
	return m.each(func(s knowledge.EventSink) error { return s.PackageDownloaded(ctx, pkg) })
}

func (m Multi) VoteRecorded(ctx context.Context, pkg *knowledge.Package, dir knowledge.VoteDirection) error {
	return m.each(func(s knowledge.EventSink) error { return s.VoteRecorded(ctx, pkg, dir) })
}
