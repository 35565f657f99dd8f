package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/byte4ever/bbmigrate/migrate/exec"
)

// DefaultRemoteName is the remote name configured on
// the mirror for the migration source.
const DefaultRemoteName = "bitbucket"

// Refmap returns the fixed ref mapping used for mirror
// fetches: branches and tags verbatim, plus every pull
// request target ref rewritten into the local
// merge-request namespace.
func Refmap() []string {
	return []string{
		"+refs/heads/*:refs/heads/*",
		"+refs/tags/*:refs/tags/*",
		"+refs/pull-requests/*/to:refs/merge-requests/*/head",
	}
}

// FetchError wraps a transport-level failure of a
// mirror fetch. The pipeline treats it as fatal.
type FetchError struct {
	// URL is the remote being fetched, with
	// credentials stripped by the caller.
	URL string
	// Output is the combined git output.
	Output string
	// Err is the underlying command error.
	Err error
}

// Error describes the failed fetch.
func (e *FetchError) Error() string {
	return fmt.Sprintf(
		"fetching mirror of %s: %v", e.URL, e.Err,
	)
}

// Unwrap returns the underlying command error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Mirror is a local bare repository mirroring a remote.
type Mirror struct {
	// Dir is the filesystem location of the bare
	// repository.
	Dir string
	// RemoteName is the name of the configured remote.
	RemoteName string

	existed bool
}

// NewMirror returns a Mirror rooted at dir using the
// default remote name.
func NewMirror(dir string) *Mirror {
	return &Mirror{
		Dir:        dir,
		RemoteName: DefaultRemoteName,
	}
}

// Existed reports whether the repository was already
// present before EnsureRepository ran.
func (m *Mirror) Existed() bool {
	return m.existed
}

// EnsureRepository creates the bare repository when it
// does not exist yet.
func (m *Mirror) EnsureRepository(
	ctx context.Context,
) error {
	const errCtx = "ensuring repository"

	head := filepath.Join(m.Dir, "HEAD")

	if _, err := os.Stat(head); err == nil {
		m.existed = true

		return nil
	}

	if err := os.MkdirAll(
		m.Dir, 0o750,
	); err != nil {
		return fmt.Errorf(
			"%s: create dir: %w", errCtx, err,
		)
	}

	if _, err := exec.Ex(
		ctx, "", "git", "init", "--bare", m.Dir,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// FetchAsMirror configures the remote to point at url
// and force-fetches the given refmap. A failed fetch is
// returned as a *FetchError.
func (m *Mirror) FetchAsMirror(
	ctx context.Context,
	url string,
	refmap []string,
) error {
	const errCtx = "fetching as mirror"

	// remote add fails when the remote exists; fall
	// back to set-url so re-runs pick up URL changes.
	if _, err := exec.Ex(
		ctx, m.Dir, "git",
		"remote", "add", m.RemoteName, url,
	); err != nil {
		if _, err := exec.Ex(
			ctx, m.Dir, "git",
			"remote", "set-url", m.RemoteName, url,
		); err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	args := append(
		[]string{
			"fetch", "--force", "--prune",
			"--no-tags", m.RemoteName,
		},
		refmap...,
	)

	out, err := exec.Ex(ctx, m.Dir, "git", args...)
	if err != nil {
		return &FetchError{
			URL:    redactURL(url),
			Output: out,
			Err:    err,
		}
	}

	return nil
}

// Commit resolves sha to a full commit id when it is
// reachable in the local repository. ok is false for
// unreachable or empty SHAs.
func (m *Mirror) Commit(
	ctx context.Context,
	sha string,
) (string, bool) {
	if sha == "" {
		return "", false
	}

	out, err := exec.Ex(
		ctx, m.Dir, "git",
		"rev-parse", "--verify", "--quiet",
		sha+"^{commit}",
	)
	if err != nil {
		return "", false
	}

	return strings.TrimSpace(out), true
}

// ExpireContentCache drops cached object and ref state
// so the next fetch starts from a consistent view.
func (m *Mirror) ExpireContentCache(
	ctx context.Context,
) error {
	const errCtx = "expiring content cache"

	if _, err := exec.Ex(
		ctx, m.Dir, "git",
		"gc", "--quiet", "--prune=now",
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// redactURL strips userinfo from a clone URL so it can
// appear in errors and logs.
func redactURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}

	return scheme + "://" + rest
}
