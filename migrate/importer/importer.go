package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
	"github.com/byte4ever/bbmigrate/migrate/git"
	"github.com/byte4ever/bbmigrate/migrate/store"
)

// Defaults for optional Config fields.
const (
	// DefaultBatchSize is the number of pull requests
	// processed per batch.
	DefaultBatchSize = 100

	// DefaultTempBranchNamespace prefixes temporary
	// branch names created on the remote.
	DefaultTempBranchNamespace = "bbmigrate"

	// DefaultAttributionTemplate renders the line
	// prepended to content whose author could not be
	// resolved locally.
	DefaultAttributionTemplate = "*By {author} ({email}) on {created}*\n\n"
)

// Client reads pull request data from the migration
// source and can create branches on it.
type Client interface {
	Repo(
		ctx context.Context,
		key string,
		slug string,
	) (*bitbucket.Repo, error)

	PullRequests(
		ctx context.Context,
		key string,
		slug string,
	) ([]bitbucket.PullRequest, error)

	Activities(
		ctx context.Context,
		key string,
		slug string,
		iid int64,
	) ([]bitbucket.Activity, error)

	CreateBranch(
		ctx context.Context,
		key string,
		slug string,
		name string,
		sha string,
	) error
}

// Mirror is the local mirror of the source repository.
type Mirror interface {
	EnsureRepository(ctx context.Context) error

	FetchAsMirror(
		ctx context.Context,
		url string,
		refmap []string,
	) error

	Commit(
		ctx context.Context,
		sha string,
	) (resolved string, ok bool)

	ExpireContentCache(ctx context.Context) error

	Existed() bool
}

// Project identifies the source repository.
type Project struct {
	// Key is the Bitbucket project key.
	Key string
	// Slug is the repository slug.
	Slug string
}

// Config holds all settings for one migration run. Use
// a Config struct instead of many arguments.
type Config struct {
	// Project is the source repository.
	Project Project

	// Client reads from the migration source.
	Client Client

	// Mirror is the local mirror of the repository.
	Mirror Mirror

	// Store persists migrated entities.
	Store store.Store

	// CloneURL overrides the clone URL. Empty means
	// look it up through Client.Repo.
	CloneURL string

	// Refmap overrides the mirror ref mapping. Nil
	// means git.Refmap().
	Refmap []string

	// TempBranchNamespace prefixes temporary branch
	// names. Empty means DefaultTempBranchNamespace.
	TempBranchNamespace string

	// BatchSize is the number of pull requests per
	// batch. Zero means DefaultBatchSize.
	BatchSize int

	// AttributionTemplate overrides the attribution
	// line template. Empty means
	// DefaultAttributionTemplate.
	AttributionTemplate string
}

// run owns the per-invocation state: the user cache and
// the clone URL resolved during mirror sync. Error and
// temp-branch accumulators are returned up the call
// chain instead.
type run struct {
	cfg      Config
	users    *userResolver
	cloneURL string
}

// Run executes one full migration: mirror sync, pull
// request enumeration, batched translation, comment
// import, and error report flush.
//
// Only transport-level failures before any pull request
// is processed are returned; everything downstream is
// captured per item in the persisted report.
func Run(ctx context.Context, cfg Config) error {
	const errCtx = "running migration"

	if err := validate(&cfg); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	r := &run{
		cfg:   cfg,
		users: newUserResolver(cfg.Store),
	}

	// Step 1: Mirror sync. The one fatal condition:
	// without a repository nothing downstream is
	// meaningful.
	if err := r.syncMirror(ctx); err != nil {
		return fmt.Errorf(
			"%s: mirror sync: %w", errCtx, err,
		)
	}

	// Step 2: Enumerate all pull requests eagerly;
	// branch restoration needs whole-batch membership.
	prs, err := cfg.Client.PullRequests(
		ctx, cfg.Project.Key, cfg.Project.Slug,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: enumerating pull requests: %w",
			errCtx, err,
		)
	}

	slog.Info(
		"importing pull requests",
		"project", cfg.Project.Key,
		"repo", cfg.Project.Slug,
		"count", len(prs),
	)

	// Step 3: Batched processing with per-item error
	// isolation.
	var records []ErrorRecord

	for _, batch := range batches(prs, cfg.BatchSize) {
		created := r.restoreBranches(ctx, batch)

		// New refs only become fetchable after a
		// re-fetch; one fetch amortized per batch.
		if len(created) > 0 {
			if err := r.syncMirror(ctx); err != nil {
				return fmt.Errorf(
					"%s: refetching after branch "+
						"restore: %w",
					errCtx, err,
				)
			}
		}

		for i := range batch {
			records = append(
				records,
				r.importPullRequest(
					ctx, &batch[i],
				)...,
			)
		}
	}

	// Step 4: Flush accumulated errors as a single
	// report. The run still succeeds.
	r.flushErrors(ctx, records)

	return nil
}

// validate fills defaults and rejects incomplete
// configs.
func validate(cfg *Config) error {
	if cfg.Client == nil {
		return fmt.Errorf("client must be set")
	}

	if cfg.Mirror == nil {
		return fmt.Errorf("mirror must be set")
	}

	if cfg.Store == nil {
		return fmt.Errorf("store must be set")
	}

	if cfg.Project.Key == "" ||
		cfg.Project.Slug == "" {
		return fmt.Errorf(
			"project key and slug must be set",
		)
	}

	if cfg.Refmap == nil {
		cfg.Refmap = git.Refmap()
	}

	if cfg.TempBranchNamespace == "" {
		cfg.TempBranchNamespace =
			DefaultTempBranchNamespace
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.AttributionTemplate == "" {
		cfg.AttributionTemplate =
			DefaultAttributionTemplate
	}

	return nil
}

// syncMirror ensures the local repository exists and
// fetches it as a mirror of the remote. On a transport
// failure the content cache of a pre-existing
// repository is invalidated before the error is
// re-raised.
func (r *run) syncMirror(ctx context.Context) error {
	const errCtx = "syncing mirror"

	if err := r.cfg.Mirror.EnsureRepository(
		ctx,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if r.cloneURL == "" {
		r.cloneURL = r.cfg.CloneURL
	}

	if r.cloneURL == "" {
		repo, err := r.cfg.Client.Repo(
			ctx,
			r.cfg.Project.Key,
			r.cfg.Project.Slug,
		)
		if err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		r.cloneURL = repo.CloneURL
	}

	err := r.cfg.Mirror.FetchAsMirror(
		ctx, r.cloneURL, r.cfg.Refmap,
	)
	if err != nil {
		if r.cfg.Mirror.Existed() {
			if expireErr := r.cfg.Mirror.ExpireContentCache(
				ctx,
			); expireErr != nil {
				slog.Warn(
					"failed to expire content cache",
					"error", expireErr,
				)
			}
		}

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// importPullRequest translates one pull request and
// imports its comments, returning the error records
// produced. A failure here never stops sibling pull
// requests.
func (r *run) importPullRequest(
	ctx context.Context,
	pr *bitbucket.PullRequest,
) []ErrorRecord {
	slog.Info(
		"importing pull request",
		"iid", pr.IID,
		"title", pr.Title,
	)

	cr, err := r.translate(ctx, pr)
	if err != nil {
		slog.Error(
			"failed to import pull request",
			"iid", pr.IID,
			"error", err,
		)

		return []ErrorRecord{
			pullRequestError(pr.IID, err),
		}
	}

	return r.importComments(ctx, pr, cr)
}

// batches partitions prs into consecutive groups of at
// most size elements.
func batches(
	prs []bitbucket.PullRequest,
	size int,
) [][]bitbucket.PullRequest {
	var out [][]bitbucket.PullRequest

	for start := 0; start < len(prs); start += size {
		end := start + size
		if end > len(prs) {
			end = len(prs)
		}

		out = append(out, prs[start:end])
	}

	return out
}
