package importer

import (
	"context"
	"log/slog"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
	"github.com/byte4ever/bbmigrate/migrate/store"
)

// importComments materializes a pull request's activity
// stream as discussion notes on the change request:
// merge metadata, inline discussions with replies, and
// standalone comments. Called only when the change
// request was successfully persisted. Returns the error
// records produced.
func (r *run) importComments(
	ctx context.Context,
	pr *bitbucket.PullRequest,
	cr *store.ChangeRequest,
) []ErrorRecord {
	activities, err := r.cfg.Client.Activities(
		ctx,
		r.cfg.Project.Key,
		r.cfg.Project.Slug,
		pr.IID,
	)
	if err != nil {
		return []ErrorRecord{
			pullRequestError(pr.IID, err),
		}
	}

	var records []ErrorRecord

	if merge := findMergeEvent(
		activities,
	); merge != nil {
		records = append(
			records,
			r.importMergeEvent(ctx, pr, merge)...,
		)
	}

	for _, a := range activities {
		if a.Kind != bitbucket.ActivityComment {
			continue
		}

		if a.Comment.Inline() {
			records = append(
				records,
				r.importInlineComment(
					ctx, cr, a.Comment,
				)...,
			)

			continue
		}

		records = append(
			records,
			r.importStandaloneComment(
				ctx, cr, a.Comment,
			)...,
		)
	}

	return records
}

// findMergeEvent returns the first merge event in the
// activity stream, or nil.
func findMergeEvent(
	activities []bitbucket.Activity,
) *bitbucket.Activity {
	for i := range activities {
		if activities[i].Kind == bitbucket.ActivityMerge {
			return &activities[i]
		}
	}

	return nil
}

// importMergeEvent resolves the merging committer,
// falling back to the ghost user, and upserts merge
// metadata on the change request.
func (r *run) importMergeEvent(
	ctx context.Context,
	pr *bitbucket.PullRequest,
	merge *bitbucket.Activity,
) []ErrorRecord {
	mergedBy, ok := r.users.resolve(
		ctx, merge.CommitterEmail,
	)
	if !ok {
		ghost, err := r.users.ghostID(ctx)
		if err != nil {
			return []ErrorRecord{
				pullRequestError(pr.IID, err),
			}
		}

		mergedBy = ghost
	}

	err := r.cfg.Store.UpsertMergeMetadata(
		ctx,
		pr.IID,
		store.MergeMetadata{
			MergedByID: mergedBy,
			MergedAt:   merge.MergedAt,
		},
	)
	if err != nil {
		return []ErrorRecord{
			pullRequestError(pr.IID, err),
		}
	}

	return nil
}

// importInlineComment creates a positioned parent note
// and one reply note per nested comment. A parent
// failure skips the replies entirely: no orphan
// replies, exactly one record. Reply failures are each
// their own record and do not abort remaining replies.
func (r *run) importInlineComment(
	ctx context.Context,
	cr *store.ChangeRequest,
	comment *bitbucket.Comment,
) []ErrorRecord {
	position, err := buildPosition(cr, comment)
	if err != nil {
		return []ErrorRecord{
			commentError(comment.ID, err),
		}
	}

	parent := r.note(ctx, comment)
	parent.Position = position

	discussionID, err := r.cfg.Store.CreateNote(
		ctx, cr.IID, parent,
	)
	if err != nil {
		slog.Error(
			"failed to create inline comment",
			"comment", comment.ID,
			"error", err,
		)

		return []ErrorRecord{
			commentError(comment.ID, err),
		}
	}

	var records []ErrorRecord

	for i := range comment.Replies {
		reply := r.note(ctx, &comment.Replies[i])
		reply.Position = position
		reply.DiscussionID = discussionID

		if _, err := r.cfg.Store.CreateNote(
			ctx, cr.IID, reply,
		); err != nil {
			records = append(records, commentError(
				comment.Replies[i].ID, err,
			))
		}
	}

	return records
}

// importStandaloneComment creates an unpositioned note
// and its replies as plain sibling notes, without a
// grouping discussion identifier. Any failure is
// recorded once against the top-level comment and
// aborts that comment's remaining replies.
func (r *run) importStandaloneComment(
	ctx context.Context,
	cr *store.ChangeRequest,
	comment *bitbucket.Comment,
) []ErrorRecord {
	err := r.createStandalone(ctx, cr, comment)
	if err != nil {
		slog.Error(
			"failed to create standalone comment",
			"comment", comment.ID,
			"error", err,
		)

		return []ErrorRecord{
			commentError(comment.ID, err),
		}
	}

	return nil
}

// createStandalone persists a standalone comment and
// its replies, stopping at the first failure.
func (r *run) createStandalone(
	ctx context.Context,
	cr *store.ChangeRequest,
	comment *bitbucket.Comment,
) error {
	if _, err := r.cfg.Store.CreateNote(
		ctx, cr.IID, r.note(ctx, comment),
	); err != nil {
		return err
	}

	for i := range comment.Replies {
		if _, err := r.cfg.Store.CreateNote(
			ctx,
			cr.IID,
			r.note(ctx, &comment.Replies[i]),
		); err != nil {
			return err
		}
	}

	return nil
}

// note maps a remote comment into a discussion note,
// applying author resolution and, for unknown authors,
// the attribution prefix.
func (r *run) note(
	ctx context.Context,
	comment *bitbucket.Comment,
) *store.DiscussionNote {
	body := comment.Text

	authorID, found, err := r.users.authorFor(
		ctx, comment.AuthorEmail,
	)
	if err != nil {
		// Creator lookup failed; keep the note with
		// attribution only. The note itself may still
		// persist.
		slog.Warn(
			"failed to resolve note author",
			"comment", comment.ID,
			"error", err,
		)
	}

	if !found {
		body = r.attribution(
			comment.AuthorName,
			comment.AuthorEmail,
			comment.CreatedAt,
		) + body
	}

	return &store.DiscussionNote{
		Body:      body,
		AuthorID:  authorID,
		CreatedAt: comment.CreatedAt,
	}
}
