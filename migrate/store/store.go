// Package store defines the destination persistence
// contract for migrated pull requests.
//
// The Store interface abstracts change-request and
// discussion-note creation. Implementations exist for
// GitLab and GitHub in sub-packages.
//
// Pattern: Strategy -- swap destination platform
// without changing migration logic.
package store

import (
	"context"
	"time"
)

// Change request states stored on the destination.
const (
	StateOpened = "opened"
	StateMerged = "merged"
	StateClosed = "closed"
)

// Position anchors a note to a file/line pair within a
// change request's diff.
type Position struct {
	// BaseSHA is the merge base of the diff.
	BaseSHA string
	// StartSHA is the commit the diff starts from.
	StartSHA string
	// HeadSHA is the head commit of the diff.
	HeadSHA string
	// OldPath is the file path on the old side.
	OldPath string
	// NewPath is the file path on the new side.
	NewPath string
	// OldLine is the old-side line number, zero when
	// absent.
	OldLine int
	// NewLine is the new-side line number, zero when
	// absent.
	NewLine int
}

// ChangeRequest is the local entity created from one
// remote pull request.
type ChangeRequest struct {
	// IID is the identifier, matching the remote pull
	// request number.
	IID int64
	// Title is the change request title.
	Title string
	// Description is the body, possibly prefixed with
	// an attribution line.
	Description string
	// SourceBranch and SourceSHA identify the proposed
	// side.
	SourceBranch string
	SourceSHA    string
	// TargetBranch and TargetSHA identify the
	// destination side.
	TargetBranch string
	TargetSHA    string
	// State is one of StateOpened, StateMerged, or
	// StateClosed.
	State string
	// MergeCommitSHA is set only for merged change
	// requests.
	MergeCommitSHA string
	// AuthorID is the destination user id the change
	// request is attributed to.
	AuthorID int64
	// CreatedAt and UpdatedAt carry the remote
	// timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DiscussionNote is one comment on a change request.
type DiscussionNote struct {
	// Body is the note text.
	Body string
	// AuthorID is the destination user id the note is
	// attributed to.
	AuthorID int64
	// CreatedAt carries the remote timestamp.
	CreatedAt time.Time
	// Position is set only for inline notes.
	Position *Position
	// DiscussionID groups a note with its sibling
	// replies. Empty for ungrouped notes.
	DiscussionID string
}

// MergeMetadata records who merged a change request and
// when.
type MergeMetadata struct {
	// MergedByID is the destination user id of the
	// merger.
	MergedByID int64
	// MergedAt is the merge timestamp.
	MergedAt time.Time
}

// Store persists migrated entities on a destination
// platform.
type Store interface {
	// CreateChangeRequest persists cr.
	CreateChangeRequest(
		ctx context.Context,
		cr *ChangeRequest,
	) error

	// DestroyChangeRequest removes the change request
	// with the given iid and its notes. A missing
	// change request is not an error.
	DestroyChangeRequest(
		ctx context.Context,
		iid int64,
	) error

	// CreateNote persists note on the change request
	// identified by iid and returns the
	// destination-assigned discussion identifier. When
	// note.DiscussionID is set the note is appended to
	// that discussion.
	CreateNote(
		ctx context.Context,
		iid int64,
		note *DiscussionNote,
	) (string, error)

	// UpsertMergeMetadata records merge metadata on
	// the change request identified by iid.
	UpsertMergeMetadata(
		ctx context.Context,
		iid int64,
		md MergeMetadata,
	) error

	// UserIDByEmail resolves an email address to a
	// destination user id. found is false when no user
	// matches.
	UserIDByEmail(
		ctx context.Context,
		email string,
	) (id int64, found bool, err error)

	// CreatorID returns the destination project
	// creator's user id.
	CreatorID(ctx context.Context) (int64, error)

	// GhostUserID returns the placeholder user id used
	// when an author cannot be resolved.
	GhostUserID(ctx context.Context) (int64, error)

	// SaveImportReport persists the aggregated JSON
	// error report on the project record.
	SaveImportReport(
		ctx context.Context,
		report []byte,
	) error
}
