// Package github persists migrated pull requests on a
// GitHub repository.
//
// GitHub cannot host foreign pull requests in arbitrary
// states, so change requests become issues carrying the
// pull request metadata, and discussion notes become
// issue comments. This keeps the migration readable on
// destinations where true merge requests are not
// representable.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/bbmigrate/migrate/store"
)

// Config holds the settings needed to create a GitHub
// destination store.
type Config struct {
	// RepoOwner is the GitHub user or organisation
	// that owns the repository.
	RepoOwner string
	// Repo is the repository name (without owner).
	Repo string
	// AccessToken is a personal access token or
	// GitHub App token used for authentication.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
}

// Store persists change requests as issues and
// discussion notes as issue comments.
//
// Pattern: Strategy -- implements store.Store.
type Store struct {
	client    *gh.Client
	repoOwner string
	repo      string

	// numbers maps remote pull request numbers to the
	// issue numbers GitHub assigned.
	numbers map[int64]int
}

// NewStore validates cfg and returns a Store ready to
// persist migrated entities.
func NewStore(cfg Config) (*Store, error) {
	const errCtx = "creating github store"

	if cfg.RepoOwner == "" {
		return nil, fmt.Errorf(
			"%s: repo owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	client := gh.NewClient(nil).
		WithAuthToken(cfg.AccessToken)

	if cfg.EnterpriseHost != "" {
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	return &Store{
		client:    client,
		repoOwner: cfg.RepoOwner,
		repo:      cfg.Repo,
		numbers:   make(map[int64]int),
	}, nil
}

// migrationLabel tags an issue with the remote pull
// request number it was migrated from.
func migrationLabel(iid int64) string {
	return fmt.Sprintf("bbmigrate-iid-%d", iid)
}

// CreateChangeRequest creates an issue carrying the
// change request metadata and migration label.
func (s *Store) CreateChangeRequest(
	ctx context.Context,
	cr *store.ChangeRequest,
) error {
	const errCtx = "creating change request issue"

	body := fmt.Sprintf(
		"`%s` (%s) into `%s` (%s), %s\n\n%s",
		cr.SourceBranch, cr.SourceSHA,
		cr.TargetBranch, cr.TargetSHA,
		cr.State,
		cr.Description,
	)

	req := gh.IssueRequest{
		Title: gh.Ptr(cr.Title),
		Body:  gh.Ptr(body),
		Labels: &[]string{
			migrationLabel(cr.IID),
		},
	}

	created, _, err := s.client.Issues.Create(
		ctx, s.repoOwner, s.repo, &req,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	s.numbers[cr.IID] = created.GetNumber()

	// Non-open change requests close their issue.
	if cr.State != store.StateOpened {
		_, _, err := s.client.Issues.Edit(
			ctx,
			s.repoOwner,
			s.repo,
			created.GetNumber(),
			&gh.IssueRequest{
				State: gh.Ptr("closed"),
			},
		)
		if err != nil {
			return fmt.Errorf(
				"%s: close: %w", errCtx, err,
			)
		}
	}

	slog.Info(
		"created change request issue",
		"iid", cr.IID,
		"url", created.GetHTMLURL(),
	)

	return nil
}

// DestroyChangeRequest retires every issue labelled
// with iid's migration label. Issues cannot be deleted
// through the API, so the label is stripped and the
// issue closed, keeping at most one labelled issue per
// iid.
func (s *Store) DestroyChangeRequest(
	ctx context.Context,
	iid int64,
) error {
	const errCtx = "destroying change request issue"

	label := migrationLabel(iid)

	opts := gh.IssueListByRepoOptions{
		State:  "all",
		Labels: []string{label},
	}

	issues, _, err := s.client.Issues.ListByRepo(
		ctx, s.repoOwner, s.repo, &opts,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	for _, issue := range issues {
		number := issue.GetNumber()

		_, err := s.client.Issues.RemoveLabelForIssue(
			ctx, s.repoOwner, s.repo, number, label,
		)
		if err != nil {
			return fmt.Errorf(
				"%s: strip label #%d: %w",
				errCtx, number, err,
			)
		}

		_, _, err = s.client.Issues.Edit(
			ctx,
			s.repoOwner,
			s.repo,
			number,
			&gh.IssueRequest{
				State: gh.Ptr("closed"),
			},
		)
		if err != nil {
			return fmt.Errorf(
				"%s: close #%d: %w",
				errCtx, number, err,
			)
		}
	}

	delete(s.numbers, iid)

	return nil
}

// CreateNote creates an issue comment. Inline positions
// are rendered into the body since issues carry no
// diff; replies reference their parent comment.
func (s *Store) CreateNote(
	ctx context.Context,
	iid int64,
	note *store.DiscussionNote,
) (string, error) {
	const errCtx = "creating note comment"

	number, err := s.issueNumber(ctx, iid)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	body := note.Body

	if p := note.Position; p != nil {
		line := p.NewLine
		if line == 0 {
			line = p.OldLine
		}

		body = fmt.Sprintf(
			"`%s:%d`\n\n%s",
			p.NewPath, line, body,
		)
	}

	if note.DiscussionID != "" {
		body = fmt.Sprintf(
			"> In reply to comment %s\n\n%s",
			note.DiscussionID, body,
		)
	}

	created, _, err := s.client.Issues.CreateComment(
		ctx,
		s.repoOwner,
		s.repo,
		number,
		&gh.IssueComment{Body: gh.Ptr(body)},
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if note.DiscussionID != "" {
		return note.DiscussionID, nil
	}

	return strconv.FormatInt(
		created.GetID(), 10,
	), nil
}

// UpsertMergeMetadata records merge metadata as an
// issue comment.
func (s *Store) UpsertMergeMetadata(
	ctx context.Context,
	iid int64,
	md store.MergeMetadata,
) error {
	const errCtx = "recording merge metadata"

	number, err := s.issueNumber(ctx, iid)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	body := fmt.Sprintf(
		"*Merged by user %d on %s*",
		md.MergedByID,
		md.MergedAt.Format(time.RFC3339),
	)

	_, _, err = s.client.Issues.CreateComment(
		ctx,
		s.repoOwner,
		s.repo,
		number,
		&gh.IssueComment{Body: gh.Ptr(body)},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// UserIDByEmail resolves an email address to a GitHub
// user id via user search.
func (s *Store) UserIDByEmail(
	ctx context.Context,
	email string,
) (int64, bool, error) {
	const errCtx = "resolving user"

	if email == "" {
		return 0, false, nil
	}

	result, _, err := s.client.Search.Users(
		ctx,
		fmt.Sprintf("%s in:email", email),
		nil,
	)
	if err != nil {
		return 0, false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if len(result.Users) == 0 {
		return 0, false, nil
	}

	return result.Users[0].GetID(), true, nil
}

// CreatorID returns the repository owner's user id.
func (s *Store) CreatorID(
	ctx context.Context,
) (int64, error) {
	const errCtx = "fetching repository owner"

	repo, _, err := s.client.Repositories.Get(
		ctx, s.repoOwner, s.repo,
	)
	if err != nil {
		return 0, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return repo.GetOwner().GetID(), nil
}

// GhostUserID returns the id of GitHub's ghost user.
func (s *Store) GhostUserID(
	ctx context.Context,
) (int64, error) {
	const errCtx = "fetching ghost user"

	user, _, err := s.client.Users.Get(ctx, "ghost")
	if err != nil {
		return 0, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return user.GetID(), nil
}

// SaveImportReport persists the aggregated error report
// as a dedicated issue.
func (s *Store) SaveImportReport(
	ctx context.Context,
	report []byte,
) error {
	const errCtx = "saving import report"

	body := fmt.Sprintf(
		"```json\n%s\n```", report,
	)

	req := gh.IssueRequest{
		Title: gh.Ptr("Pull request import errors"),
		Body:  gh.Ptr(body),
	}

	_, _, err := s.client.Issues.Create(
		ctx, s.repoOwner, s.repo, &req,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// issueNumber returns the issue number for a remote
// pull request number, consulting the label index when
// the in-run cache misses.
func (s *Store) issueNumber(
	ctx context.Context,
	iid int64,
) (int, error) {
	const errCtx = "locating issue"

	if number, ok := s.numbers[iid]; ok {
		return number, nil
	}

	opts := gh.IssueListByRepoOptions{
		State:  "all",
		Labels: []string{migrationLabel(iid)},
	}

	issues, _, err := s.client.Issues.ListByRepo(
		ctx, s.repoOwner, s.repo, &opts,
	)
	if err != nil {
		return 0, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if len(issues) == 0 {
		return 0, fmt.Errorf(
			"%s: no issue for pull request %d",
			errCtx, iid,
		)
	}

	s.numbers[iid] = issues[0].GetNumber()

	return issues[0].GetNumber(), nil
}
