package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
	"github.com/byte4ever/bbmigrate/migrate/store"
)

// translate maps one remote pull request into a local
// change request and persists it. Any existing change
// request with the same iid is destroyed first, so
// repeated runs converge rather than duplicate.
func (r *run) translate(
	ctx context.Context,
	pr *bitbucket.PullRequest,
) (*store.ChangeRequest, error) {
	const errCtx = "translating pull request"

	// The fetch may have made the SHAs reachable; keep
	// the raw remote SHA as a fallback value otherwise.
	sourceSHA := r.resolveSHA(ctx, pr.SourceSHA)
	targetSHA := r.resolveSHA(ctx, pr.TargetSHA)

	if err := r.cfg.Store.DestroyChangeRequest(
		ctx, pr.IID,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: destroy existing: %w", errCtx, err,
		)
	}

	authorID, found, err := r.users.authorFor(
		ctx, pr.AuthorEmail,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: resolve author: %w", errCtx, err,
		)
	}

	description := pr.Description
	if !found {
		description = r.attribution(
			pr.AuthorName,
			pr.AuthorEmail,
			pr.CreatedAt,
		) + description
	}

	cr := store.ChangeRequest{
		IID:          pr.IID,
		Title:        pr.Title,
		Description:  description,
		SourceBranch: pr.SourceBranch,
		SourceSHA:    sourceSHA,
		TargetBranch: pr.TargetBranch,
		TargetSHA:    targetSHA,
		State:        translateState(pr.State),
		AuthorID:     authorID,
		CreatedAt:    pr.CreatedAt,
		UpdatedAt:    pr.UpdatedAt,
	}

	if pr.Merged {
		cr.MergeCommitSHA = targetSHA
	}

	if err := r.cfg.Store.CreateChangeRequest(
		ctx, &cr,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return &cr, nil
}

// resolveSHA returns the locally resolved commit id
// when sha is reachable, and the raw remote value
// otherwise. The raw value keeps the reference
// meaningful even when the commit could not be
// restored.
func (r *run) resolveSHA(
	ctx context.Context,
	sha string,
) string {
	if resolved, ok := r.cfg.Mirror.Commit(
		ctx, sha,
	); ok {
		return resolved
	}

	return sha
}

// translateState maps a remote pull request state to
// the local change request state.
func translateState(state string) string {
	switch state {
	case bitbucket.StateMerged:
		return store.StateMerged
	case bitbucket.StateDeclined:
		return store.StateClosed
	default:
		return store.StateOpened
	}
}

// attribution renders the line prepended to content
// whose author could not be resolved locally.
func (r *run) attribution(
	name string,
	email string,
	created time.Time,
) string {
	author := name
	if author == "" {
		author = email
	}

	return fasttemplate.ExecuteStringStd(
		r.cfg.AttributionTemplate,
		"{", "}",
		map[string]any{
			"author":  author,
			"email":   email,
			"created": created.Format("2006-01-02"),
		},
	)
}
