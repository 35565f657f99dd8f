package importer

import (
	"fmt"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
	"github.com/byte4ever/bbmigrate/migrate/store"
)

// buildPosition maps an inline comment's anchor plus
// the change request's diff reference into a position
// record. Pure: no side effects. A malformed comment is
// an upstream data error and is returned, not caught;
// the call site records it.
func buildPosition(
	cr *store.ChangeRequest,
	comment *bitbucket.Comment,
) (*store.Position, error) {
	const errCtx = "building position"

	anchor := comment.Anchor
	if anchor == nil {
		return nil, fmt.Errorf(
			"%s: comment %d has no anchor",
			errCtx, comment.ID,
		)
	}

	if anchor.Path == "" {
		return nil, fmt.Errorf(
			"%s: comment %d anchor has no path",
			errCtx, comment.ID,
		)
	}

	return &store.Position{
		BaseSHA:  cr.TargetSHA,
		StartSHA: cr.TargetSHA,
		HeadSHA:  cr.SourceSHA,
		OldPath:  anchor.Path,
		NewPath:  anchor.Path,
		OldLine:  anchor.OldLine,
		NewLine:  anchor.NewLine,
	}, nil
}
