// Package gitlab persists migrated pull requests on a
// GitLab project.
package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/bbmigrate/migrate/store"
)

// reportFileName is the file name of the persisted
// import report snippet.
const reportFileName = "import_errors.json"

// Config holds the settings needed to create a GitLab
// destination store.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// Project is the full project path
	// (e.g. "org/project") or numeric id.
	Project string
	// AccessToken is a personal or project access
	// token used for authentication.
	AccessToken string
	// GhostUserID is the placeholder user id for
	// unresolvable authors. Zero falls back to the
	// project creator.
	GhostUserID int64
}

// Store persists change requests as GitLab merge
// requests and discussion notes as MR discussions.
//
// Pattern: Strategy -- implements store.Store.
type Store struct {
	client  *gl.Client
	project string
	ghostID int64

	// iids maps remote pull request numbers to the
	// merge request iids GitLab assigned.
	iids map[int64]int64
}

// NewStore validates cfg and returns a Store ready to
// persist migrated entities.
func NewStore(cfg Config) (*Store, error) {
	const errCtx = "creating gitlab store"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	if cfg.Project == "" {
		return nil, fmt.Errorf(
			"%s: project must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	client, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Store{
		client:  client,
		project: cfg.Project,
		ghostID: cfg.GhostUserID,
		iids:    make(map[int64]int64),
	}, nil
}

// migrationLabel tags a merge request with the remote
// pull request number it was migrated from, so re-runs
// can find and destroy it.
func migrationLabel(iid int64) string {
	return fmt.Sprintf("bbmigrate-iid-%d", iid)
}

// CreateChangeRequest creates a merge request carrying
// the migration label for cr.IID.
func (s *Store) CreateChangeRequest(
	ctx context.Context,
	cr *store.ChangeRequest,
) error {
	const errCtx = "creating merge request"

	opts := gl.CreateMergeRequestOptions{
		Title:        gl.Ptr(cr.Title),
		Description:  gl.Ptr(cr.Description),
		SourceBranch: gl.Ptr(cr.SourceBranch),
		TargetBranch: gl.Ptr(cr.TargetBranch),
		Labels: &gl.LabelOptions{
			migrationLabel(cr.IID),
		},
	}

	created, resp, err := s.client.MergeRequests.CreateMergeRequest(
		s.project,
		&opts,
		gl.WithContext(ctx),
	)
	if err != nil {
		// HTTP 409: MR already exists for this source
		// branch; treat as unrecoverable for this item
		// since destroy ran first.
		if resp != nil &&
			resp.StatusCode == http.StatusConflict {
			return fmt.Errorf(
				"%s: already exists: %w",
				errCtx, err,
			)
		}

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	s.iids[cr.IID] = created.IID

	// Merge requests are always created open. The API
	// cannot mark one merged, so merged and closed
	// states both map to a close transition; merge
	// metadata lands separately as a note.
	if cr.State != store.StateOpened {
		opts := gl.UpdateMergeRequestOptions{
			StateEvent: gl.Ptr("close"),
		}

		_, _, err := s.client.MergeRequests.UpdateMergeRequest(
			s.project,
			created.IID,
			&opts,
			gl.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf(
				"%s: close: %w", errCtx, err,
			)
		}
	}

	slog.Info(
		"created merge request",
		"iid", cr.IID,
		"url", created.WebURL,
	)

	return nil
}

// DestroyChangeRequest deletes every merge request
// labelled with iid's migration label. A missing merge
// request is not an error.
func (s *Store) DestroyChangeRequest(
	ctx context.Context,
	iid int64,
) error {
	const errCtx = "destroying merge request"

	opts := gl.ListProjectMergeRequestsOptions{
		Labels: &gl.LabelOptions{
			migrationLabel(iid),
		},
	}

	mrs, _, err := s.client.MergeRequests.ListProjectMergeRequests(
		s.project,
		&opts,
		gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	for _, mr := range mrs {
		_, err := s.client.MergeRequests.DeleteMergeRequest(
			s.project,
			mr.IID,
			gl.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf(
				"%s: delete !%d: %w",
				errCtx, mr.IID, err,
			)
		}
	}

	delete(s.iids, iid)

	return nil
}

// CreateNote creates a discussion note. Positioned or
// ungrouped notes open a new discussion; notes carrying
// a DiscussionID are appended to it as replies.
func (s *Store) CreateNote(
	ctx context.Context,
	iid int64,
	note *store.DiscussionNote,
) (string, error) {
	const errCtx = "creating note"

	mrIID, err := s.mrIID(ctx, iid)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	body := attributed(note.Body, note.AuthorID)

	if note.DiscussionID != "" {
		opts := gl.AddMergeRequestDiscussionNoteOptions{
			Body:      gl.Ptr(body),
			CreatedAt: noteTime(note.CreatedAt),
		}

		_, _, err := s.client.Discussions.AddMergeRequestDiscussionNote(
			s.project,
			mrIID,
			note.DiscussionID,
			&opts,
			gl.WithContext(ctx),
		)
		if err != nil {
			return "", fmt.Errorf(
				"%s: add reply: %w", errCtx, err,
			)
		}

		return note.DiscussionID, nil
	}

	if note.Position == nil {
		opts := gl.CreateMergeRequestNoteOptions{
			Body:      gl.Ptr(body),
			CreatedAt: noteTime(note.CreatedAt),
		}

		_, _, err := s.client.Notes.CreateMergeRequestNote(
			s.project,
			mrIID,
			&opts,
			gl.WithContext(ctx),
		)
		if err != nil {
			return "", fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return "", nil
	}

	opts := gl.CreateMergeRequestDiscussionOptions{
		Body:      gl.Ptr(body),
		CreatedAt: noteTime(note.CreatedAt),
		Position:  positionOptions(note.Position),
	}

	discussion, _, err := s.client.Discussions.CreateMergeRequestDiscussion(
		s.project,
		mrIID,
		&opts,
		gl.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return discussion.ID, nil
}

// UpsertMergeMetadata records merge metadata as a note
// on the merge request. The GitLab API does not accept
// merged-by on import, so the metadata is kept visible
// instead of dropped.
func (s *Store) UpsertMergeMetadata(
	ctx context.Context,
	iid int64,
	md store.MergeMetadata,
) error {
	const errCtx = "recording merge metadata"

	mrIID, err := s.mrIID(ctx, iid)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	body := fmt.Sprintf(
		"*Merged by user %d on %s*",
		md.MergedByID,
		md.MergedAt.Format(time.RFC3339),
	)

	opts := gl.CreateMergeRequestNoteOptions{
		Body:      gl.Ptr(body),
		CreatedAt: noteTime(md.MergedAt),
	}

	_, _, err = s.client.Notes.CreateMergeRequestNote(
		s.project,
		mrIID,
		&opts,
		gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// UserIDByEmail resolves an email address to a GitLab
// user id via user search.
func (s *Store) UserIDByEmail(
	ctx context.Context,
	email string,
) (int64, bool, error) {
	const errCtx = "resolving user"

	if email == "" {
		return 0, false, nil
	}

	opts := gl.ListUsersOptions{
		Search: gl.Ptr(email),
	}

	users, _, err := s.client.Users.ListUsers(
		&opts,
		gl.WithContext(ctx),
	)
	if err != nil {
		return 0, false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	for _, u := range users {
		if u.Email == email {
			return int64(u.ID), true, nil
		}
	}

	return 0, false, nil
}

// CreatorID returns the project creator's user id.
func (s *Store) CreatorID(
	ctx context.Context,
) (int64, error) {
	const errCtx = "fetching project creator"

	project, _, err := s.client.Projects.GetProject(
		s.project,
		nil,
		gl.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return int64(project.CreatorID), nil
}

// GhostUserID returns the configured ghost user id,
// falling back to the project creator.
func (s *Store) GhostUserID(
	ctx context.Context,
) (int64, error) {
	if s.ghostID != 0 {
		return s.ghostID, nil
	}

	return s.CreatorID(ctx)
}

// SaveImportReport persists the aggregated error report
// as a private project snippet.
func (s *Store) SaveImportReport(
	ctx context.Context,
	report []byte,
) error {
	const errCtx = "saving import report"

	opts := gl.CreateProjectSnippetOptions{
		Title:      gl.Ptr("Pull request import errors"),
		FileName:   gl.Ptr(reportFileName),
		Content:    gl.Ptr(string(report)),
		Visibility: gl.Ptr(gl.PrivateVisibility),
	}

	_, _, err := s.client.ProjectSnippets.CreateSnippet(
		s.project,
		&opts,
		gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// mrIID returns the GitLab merge request iid for a
// remote pull request number, consulting the label
// index when the in-run cache misses.
func (s *Store) mrIID(
	ctx context.Context,
	iid int64,
) (int64, error) {
	const errCtx = "locating merge request"

	if mrIID, ok := s.iids[iid]; ok {
		return mrIID, nil
	}

	opts := gl.ListProjectMergeRequestsOptions{
		Labels: &gl.LabelOptions{
			migrationLabel(iid),
		},
	}

	mrs, _, err := s.client.MergeRequests.ListProjectMergeRequests(
		s.project,
		&opts,
		gl.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if len(mrs) == 0 {
		return 0, fmt.Errorf(
			"%s: no merge request for pull request %d",
			errCtx, iid,
		)
	}

	s.iids[iid] = mrs[0].IID

	return mrs[0].IID, nil
}

// positionOptions converts a store position into the
// API option form. Zero lines map to nil.
func positionOptions(
	p *store.Position,
) *gl.PositionOptions {
	opts := gl.PositionOptions{
		BaseSHA:      gl.Ptr(p.BaseSHA),
		StartSHA:     gl.Ptr(p.StartSHA),
		HeadSHA:      gl.Ptr(p.HeadSHA),
		OldPath:      gl.Ptr(p.OldPath),
		NewPath:      gl.Ptr(p.NewPath),
		PositionType: gl.Ptr("text"),
	}

	if p.OldLine != 0 {
		opts.OldLine = gl.Ptr(int64(p.OldLine))
	}

	if p.NewLine != 0 {
		opts.NewLine = gl.Ptr(int64(p.NewLine))
	}

	return &opts
}

// attributed prefixes body with the acting user id when
// notes cannot be impersonated through the API.
func attributed(body string, authorID int64) string {
	if authorID == 0 {
		return body
	}

	return fmt.Sprintf(
		"*By user %d*\n\n%s", authorID, body,
	)
}

// noteTime converts a timestamp into the optional form
// the API options expect. Zero maps to nil.
func noteTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
