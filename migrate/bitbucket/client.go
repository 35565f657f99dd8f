package bitbucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
)

// Default client tuning.
const (
	// DefaultPageLimit is the page size requested from
	// the server.
	DefaultPageLimit = 100
	// DefaultRetryMax is the number of retries for GET
	// requests.
	DefaultRetryMax = 3
)

// Config holds the settings needed to create a
// Bitbucket Server API client.
type Config struct {
	// BaseURL is the server root URL (e.g.
	// "https://bb.example.com").
	BaseURL string
	// User is the Bitbucket API username.
	User string
	// Password is the Bitbucket API password (or
	// personal access token).
	Password string
	// PageLimit overrides the page size for list
	// endpoints. Zero means DefaultPageLimit.
	PageLimit int
	// RetryMax overrides the GET retry count. Zero
	// means DefaultRetryMax.
	RetryMax int
	// HTTPClient overrides the HTTP client. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Client reads pull requests and their activity from a
// Bitbucket Server instance and can create branches on
// it.
type Client struct {
	base      string
	user      string
	password  string
	pageLimit int
	retryMax  int
	hc        *http.Client
}

// StatusError is returned when the server answers with
// an unexpected HTTP status.
type StatusError struct {
	// Code is the HTTP status code.
	Code int
	// Body is the raw response body, kept for the
	// error report.
	Body string
}

// Error returns the status code description.
func (e *StatusError) Error() string {
	return fmt.Sprintf(
		"unexpected status %d", e.Code,
	)
}

// NewClient validates cfg and returns a Client ready to
// talk to the server.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating bitbucket client"

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: base url must be set", errCtx,
		)
	}

	if cfg.User == "" {
		return nil, fmt.Errorf(
			"%s: user must be set", errCtx,
		)
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf(
			"%s: password must be set", errCtx,
		)
	}

	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}

	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = DefaultRetryMax
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		base:      cfg.BaseURL,
		user:      cfg.User,
		password:  cfg.Password,
		pageLimit: pageLimit,
		retryMax:  retryMax,
		hc:        hc,
	}, nil
}

// Repo fetches the repository identified by project key
// and repository slug.
func (c *Client) Repo(
	ctx context.Context,
	key string,
	slug string,
) (*Repo, error) {
	const errCtx = "fetching repository"

	path := fmt.Sprintf(
		"/rest/api/1.0/projects/%s/repos/%s",
		url.PathEscape(key), url.PathEscape(slug),
	)

	var w wireRepo

	if err := c.get(ctx, path, nil, &w); err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	repo := Repo{Slug: w.Slug, Name: w.Name}

	for _, link := range w.Links.Clone {
		if link.Name == "http" {
			repo.CloneURL = link.Href

			break
		}
	}

	return &repo, nil
}

// PullRequests fetches every pull request of the
// repository, in all states, eagerly materialized.
func (c *Client) PullRequests(
	ctx context.Context,
	key string,
	slug string,
) ([]PullRequest, error) {
	const errCtx = "fetching pull requests"

	path := fmt.Sprintf(
		"/rest/api/1.0/projects/%s/repos/%s/pull-requests",
		url.PathEscape(key), url.PathEscape(slug),
	)

	var prs []PullRequest

	err := c.paged(
		ctx,
		path,
		url.Values{"state": {"ALL"}},
		func(raw json.RawMessage) error {
			var w wirePullRequest

			if err := json.Unmarshal(
				raw, &w,
			); err != nil {
				return err
			}

			prs = append(prs, toPullRequest(w))

			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return prs, nil
}

// Activities fetches the activity stream of one pull
// request. Actions other than merges and comments are
// dropped at decode time.
func (c *Client) Activities(
	ctx context.Context,
	key string,
	slug string,
	iid int64,
) ([]Activity, error) {
	const errCtx = "fetching activities"

	path := fmt.Sprintf(
		"/rest/api/1.0/projects/%s/repos/%s/pull-requests/%d/activities",
		url.PathEscape(key), url.PathEscape(slug), iid,
	)

	var activities []Activity

	err := c.paged(
		ctx,
		path,
		nil,
		func(raw json.RawMessage) error {
			var w wireActivity

			if err := json.Unmarshal(
				raw, &w,
			); err != nil {
				return err
			}

			if a, ok := toActivity(w); ok {
				activities = append(activities, a)
			}

			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return activities, nil
}

// CreateBranch creates a branch pointing at sha in the
// remote repository. Creation is not retried: a failed
// attempt may still have created the ref.
func (c *Client) CreateBranch(
	ctx context.Context,
	key string,
	slug string,
	name string,
	sha string,
) error {
	const errCtx = "creating branch"

	path := fmt.Sprintf(
		"/rest/api/1.0/projects/%s/repos/%s/branches",
		url.PathEscape(key), url.PathEscape(slug),
	)

	payload, err := json.Marshal(
		createBranchRequest{
			Name:       name,
			StartPoint: sha,
		},
	)
	if err != nil {
		return fmt.Errorf(
			"%s: marshal request: %w", errCtx, err,
		)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.base+path,
		bytes.NewBuffer(payload),
	)
	if err != nil {
		return fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf(
			"%s: send request: %w", errCtx, err,
		)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn(
			"cannot read response body",
			"error", err,
		)
	}

	if resp.StatusCode >= http.StatusOK &&
		resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	return fmt.Errorf(
		"%s: %w",
		errCtx,
		&StatusError{
			Code: resp.StatusCode,
			Body: string(rb),
		},
	)
}

// paged walks a paged list endpoint, invoking each for
// every raw value until the last page.
func (c *Client) paged(
	ctx context.Context,
	path string,
	query url.Values,
	each func(json.RawMessage) error,
) error {
	start := 0

	for {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}

		q.Set("limit", strconv.Itoa(c.pageLimit))
		q.Set("start", strconv.Itoa(start))

		var pg page[json.RawMessage]

		if err := c.get(ctx, path, q, &pg); err != nil {
			return err
		}

		for _, raw := range pg.Values {
			if err := each(raw); err != nil {
				return err
			}
		}

		if pg.IsLastPage {
			return nil
		}

		// A page start that does not advance would
		// refetch the same page forever.
		if pg.NextPageStart <= start {
			return fmt.Errorf(
				"paging %s: next page start %d "+
					"does not advance past %d",
				path, pg.NextPageStart, start,
			)
		}

		start = pg.NextPageStart
	}
}

// get performs an authenticated GET and decodes the JSON
// response into out. Transient failures are retried with
// capped exponential backoff.
func (c *Client) get(
	ctx context.Context,
	path string,
	query url.Values,
	out any,
) error {
	const errCtx = "getting"

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	op := func() error {
		req, err := http.NewRequestWithContext(
			ctx,
			http.MethodGet,
			target,
			nil,
		)
		if err != nil {
			return backoff.Permanent(err)
		}

		req.SetBasicAuth(c.user, c.password)

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}

		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			rb, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				slog.Warn(
					"cannot read response body",
					"error", readErr,
				)
			}

			statusErr := &StatusError{
				Code: resp.StatusCode,
				Body: string(rb),
			}

			// Client errors will not heal on retry.
			if resp.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(statusErr)
			}

			return statusErr
		}

		if err := json.NewDecoder(
			resp.Body,
		).Decode(out); err != nil {
			return backoff.Permanent(err)
		}

		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(
					500*time.Millisecond,
				),
			),
			uint64(c.retryMax),
		),
		ctx,
	)

	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf(
			"%s %s: %w", errCtx, path, err,
		)
	}

	return nil
}
