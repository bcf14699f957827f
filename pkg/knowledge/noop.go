package knowledge

import "context"

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) PackageUploaded(ctx context.Context, pkg *Package) error { return nil }
func (n *NoopEventSink) PackageApproved(ctx context.Context, pkg *Package) error { return nil }
func (n *NoopEventSink) PackageRejected(ctx context.Context, pkg *Package) error { return nil }
func (n *NoopEventSink) PackageDownloaded(ctx context.Context, pkg *Package) error { return nil }

func (n *NoopEventSink) VoteRecorded(ctx context.Context, pkg *Package, dir VoteDirection) error {
	return nil
}

// OpenPolicy accepts every anonymous upload and vote.
type OpenPolicy struct{}

func (OpenPolicy) AllowUpload(ctx context.Context, req UploadRequest) error { return nil }
func (OpenPolicy) AllowVote(ctx context.Context, id int64, dir VoteDirection) error { return nil }
