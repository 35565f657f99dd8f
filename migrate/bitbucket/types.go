package bitbucket

import (
	"strings"
	"time"
)

// Pull request states as reported by Bitbucket Server.
const (
	StateOpen     = "OPEN"
	StateMerged   = "MERGED"
	StateDeclined = "DECLINED"
)

// Repo describes a repository on the Bitbucket server.
type Repo struct {
	// Slug is the repository slug within its project.
	Slug string
	// Name is the human-readable repository name.
	Name string
	// CloneURL is the HTTP clone URL.
	CloneURL string
}

// PullRequest is one remote pull request. Values are
// immutable within a migration run.
type PullRequest struct {
	// IID is the server-side pull request number.
	IID int64
	// Title is the pull request title.
	Title string
	// Description is the pull request body.
	Description string
	// AuthorEmail is the author's email address.
	AuthorEmail string
	// AuthorName is the author's display name.
	AuthorName string
	// State is one of StateOpen, StateMerged, or
	// StateDeclined.
	State string
	// Merged reports whether the pull request was
	// merged.
	Merged bool
	// SourceBranch is the proposed branch name.
	SourceBranch string
	// SourceSHA is the tip commit of the source branch.
	SourceSHA string
	// TargetBranch is the destination branch name.
	TargetBranch string
	// TargetSHA is the tip commit of the target branch.
	TargetSHA string
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time
	// UpdatedAt is the last-update timestamp.
	UpdatedAt time.Time
}

// ActivityKind discriminates the closed set of activity
// variants this client surfaces.
type ActivityKind int

// Activity variants. The discriminator is decided once
// at decode time from the payload action field.
const (
	// ActivityComment is a top-level comment, inline
	// or standalone.
	ActivityComment ActivityKind = iota
	// ActivityMerge is the merge event of the pull
	// request.
	ActivityMerge
)

// Activity is one entry of a pull request's activity
// stream.
type Activity struct {
	// Kind selects which of the remaining fields are
	// populated.
	Kind ActivityKind
	// CommitterEmail is the merging user's email.
	// Merge events only.
	CommitterEmail string
	// MergedAt is the merge timestamp. Merge events
	// only.
	MergedAt time.Time
	// Comment is the comment payload. Comment
	// activities only.
	Comment *Comment
}

// Anchor locates an inline comment within the pull
// request diff. A zero line means the side is absent.
type Anchor struct {
	// Path is the file path the comment is anchored
	// to.
	Path string
	// OldLine is the line number on the old side of
	// the diff.
	OldLine int
	// NewLine is the line number on the new side of
	// the diff.
	NewLine int
}

// Comment is a pull request comment. Replies are
// recursively shaped like comments but never carry an
// anchor.
type Comment struct {
	// ID is the server-side comment identifier.
	ID int64
	// AuthorEmail is the comment author's email.
	AuthorEmail string
	// AuthorName is the comment author's display name.
	AuthorName string
	// Text is the comment body.
	Text string
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time
	// Anchor is set only for inline comments.
	Anchor *Anchor
	// Replies are the ordered nested replies.
	Replies []Comment
}

// Inline reports whether the comment is anchored to a
// diff line.
func (c *Comment) Inline() bool {
	return c.Anchor != nil
}

// Wire types mirroring the Bitbucket Server REST API
// 1.0 payloads.

type page[T any] struct {
	IsLastPage    bool `json:"isLastPage"`
	NextPageStart int  `json:"nextPageStart"`
	Values        []T  `json:"values"`
	Size          int  `json:"size"`
	Start         int  `json:"start"`
	Limit         int  `json:"limit"`
}

type cloneLink struct {
	Href string `json:"href"`
	Name string `json:"name"`
}

type repoLinks struct {
	Clone []cloneLink `json:"clone"`
}

type wireRepo struct {
	Slug  string    `json:"slug"`
	Name  string    `json:"name"`
	Links repoLinks `json:"links"`
}

type wireUser struct {
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

type wireAccount struct {
	User wireUser `json:"user"`
}

type wireRef struct {
	ID           string `json:"id"`
	DisplayID    string `json:"displayId"`
	LatestCommit string `json:"latestCommit"`
}

type wirePullRequest struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	State       string      `json:"state"`
	CreatedDate int64       `json:"createdDate"`
	UpdatedDate int64       `json:"updatedDate"`
	FromRef     wireRef     `json:"fromRef"`
	ToRef       wireRef     `json:"toRef"`
	Author      wireAccount `json:"author"`
}

type wireAnchor struct {
	Line     int    `json:"line"`
	LineType string `json:"lineType"`
	Path     string `json:"path"`
	SrcPath  string `json:"srcPath"`
}

type wireComment struct {
	ID          int64         `json:"id"`
	Text        string        `json:"text"`
	Author      wireUser      `json:"author"`
	CreatedDate int64         `json:"createdDate"`
	Comments    []wireComment `json:"comments"`
}

type wireActivity struct {
	Action        string       `json:"action"`
	CreatedDate   int64        `json:"createdDate"`
	User          wireUser     `json:"user"`
	Comment       *wireComment `json:"comment"`
	CommentAnchor *wireAnchor  `json:"commentAnchor"`
}

type createBranchRequest struct {
	Name       string `json:"name"`
	StartPoint string `json:"startPoint"`
}

// epochMillis converts a Bitbucket epoch-millisecond
// timestamp into a time.Time. Zero maps to the zero
// time.
func epochMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}

// toPullRequest converts a wire pull request into the
// exported model.
func toPullRequest(w wirePullRequest) PullRequest {
	return PullRequest{
		IID:          w.ID,
		Title:        w.Title,
		Description:  w.Description,
		AuthorEmail:  w.Author.User.EmailAddress,
		AuthorName:   w.Author.User.DisplayName,
		State:        w.State,
		Merged:       w.State == StateMerged,
		SourceBranch: w.FromRef.DisplayID,
		SourceSHA:    w.FromRef.LatestCommit,
		TargetBranch: w.ToRef.DisplayID,
		TargetSHA:    w.ToRef.LatestCommit,
		CreatedAt:    epochMillis(w.CreatedDate),
		UpdatedAt:    epochMillis(w.UpdatedDate),
	}
}

// toActivity converts a wire activity into the tagged
// variant, or returns false for actions this client
// does not surface (approvals, rescopes, and the like).
func toActivity(w wireActivity) (Activity, bool) {
	switch strings.ToUpper(w.Action) {
	case "MERGED":
		return Activity{
			Kind:           ActivityMerge,
			CommitterEmail: w.User.EmailAddress,
			MergedAt:       epochMillis(w.CreatedDate),
		}, true

	case "COMMENTED":
		if w.Comment == nil {
			return Activity{}, false
		}

		c := toComment(*w.Comment)
		c.Anchor = toAnchor(w.CommentAnchor)

		return Activity{
			Kind:    ActivityComment,
			Comment: &c,
		}, true

	default:
		return Activity{}, false
	}
}

// toComment converts a wire comment and its reply tree.
// Anchors never appear on replies.
func toComment(w wireComment) Comment {
	c := Comment{
		ID:          w.ID,
		AuthorEmail: w.Author.EmailAddress,
		AuthorName:  w.Author.DisplayName,
		Text:        w.Text,
		CreatedAt:   epochMillis(w.CreatedDate),
	}

	for _, r := range w.Comments {
		c.Replies = append(c.Replies, toComment(r))
	}

	return c
}

// toAnchor converts a wire comment anchor. The line
// number counts for the old side unless the line was
// added, and for the new side unless it was removed.
func toAnchor(w *wireAnchor) *Anchor {
	if w == nil {
		return nil
	}

	path := w.Path
	if path == "" {
		path = w.SrcPath
	}

	a := Anchor{Path: path}

	switch strings.ToUpper(w.LineType) {
	case "ADDED":
		a.NewLine = w.Line
	case "REMOVED":
		a.OldLine = w.Line
	default:
		a.OldLine = w.Line
		a.NewLine = w.Line
	}

	return &a
}
