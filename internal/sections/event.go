package sections

import "github.com/deskbridge/deskbridge-gateway/pkg/sdk"

// GenerationID identifies one changeset generation.
type GenerationID string

// ChangesetEvent is emitted once per UI update cycle after a changeset has
// been applied to a section tree.
type ChangesetEvent struct {
	// Name is the reason the tree was updated.
	Name string
	// IsAsync reports whether the changeset was computed off the UI thread.
	IsAsync bool
	// SurfaceID is the tag of the section tree.
	SurfaceID string
	ID        GenerationID
	// Tree is the section tree hierarchy, one opaque record per node.
	Tree          sdk.Array
	ChangesetData *sdk.Object
}

// Listener receives changeset notifications.
type Listener interface {
	OnChangesetApplied(ev ChangesetEvent)
}

// Source emits changeset notifications to at most one listener. Setting a
// listener replaces the previous one.
type Source interface {
	SetListener(l Listener)
}
