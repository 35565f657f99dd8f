package importer_test

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
	"github.com/byte4ever/bbmigrate/migrate/git"
	"github.com/byte4ever/bbmigrate/migrate/importer"
	"github.com/byte4ever/bbmigrate/migrate/store"
)

func TestBatches_sizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		total     int
		size      int
		wantSizes []int
	}{
		{
			name:      "exact multiple",
			total:     200,
			size:      100,
			wantSizes: []int{100, 100},
		},
		{
			name:      "remainder batch",
			total:     250,
			size:      100,
			wantSizes: []int{100, 100, 50},
		},
		{
			name:      "single short batch",
			total:     7,
			size:      100,
			wantSizes: []int{7},
		},
		{
			name:      "empty list",
			total:     0,
			size:      100,
			wantSizes: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prs := make(
				[]bitbucket.PullRequest, tt.total,
			)
			for i := range prs {
				prs[i].IID = int64(i + 1)
			}

			got := importer.BatchesForTest(
				prs, tt.size,
			)

			require.Len(t, got, len(tt.wantSizes))

			for i, want := range tt.wantSizes {
				assert.Len(t, got[i], want)
			}
		})
	}
}

func TestTempBranches_naming(t *testing.T) {
	t.Parallel()

	pr := bitbucket.PullRequest{
		IID:       42,
		SourceSHA: "aaa",
		TargetSHA: "bbb",
	}

	specs := importer.TempBranchesForTest("ns", &pr)

	require.Len(t, specs, 2)
	assert.Equal(t, importer.BranchSpec{
		Name: "ns/import/pull-request/42/from",
		SHA:  "aaa",
	}, specs[0])
	assert.Equal(t, importer.BranchSpec{
		Name: "ns/import/pull-request/42/to",
		SHA:  "bbb",
	}, specs[1])
}

func TestBuildPosition(t *testing.T) {
	t.Parallel()

	cr := store.ChangeRequest{
		SourceSHA: "head111",
		TargetSHA: "base222",
	}

	comment := bitbucket.Comment{
		ID: 5,
		Anchor: &bitbucket.Anchor{
			Path:    "pkg/a.go",
			OldLine: 3,
			NewLine: 4,
		},
	}

	pos, err := importer.BuildPositionForTest(
		&cr, &comment,
	)

	require.NoError(t, err)
	assert.Equal(t, &store.Position{
		BaseSHA:  "base222",
		StartSHA: "base222",
		HeadSHA:  "head111",
		OldPath:  "pkg/a.go",
		NewPath:  "pkg/a.go",
		OldLine:  3,
		NewLine:  4,
	}, pos)
}

func TestBuildPosition_malformed(t *testing.T) {
	t.Parallel()

	cr := store.ChangeRequest{}

	_, err := importer.BuildPositionForTest(
		&cr, &bitbucket.Comment{ID: 5},
	)
	assert.ErrorContains(t, err, "no anchor")

	_, err = importer.BuildPositionForTest(
		&cr,
		&bitbucket.Comment{
			ID:     5,
			Anchor: &bitbucket.Anchor{OldLine: 1},
		},
	)
	assert.ErrorContains(t, err, "no path")
}

func TestTranslateState(t *testing.T) {
	t.Parallel()

	assert.Equal(
		t,
		store.StateMerged,
		importer.TranslateStateForTest(
			bitbucket.StateMerged,
		),
	)
	assert.Equal(
		t,
		store.StateClosed,
		importer.TranslateStateForTest(
			bitbucket.StateDeclined,
		),
	)
	assert.Equal(
		t,
		store.StateOpened,
		importer.TranslateStateForTest(
			bitbucket.StateOpen,
		),
	)
}

func TestRun_validation(t *testing.T) {
	t.Parallel()

	err := importer.Run(
		context.Background(), importer.Config{},
	)

	assert.ErrorContains(t, err, "client must be set")
}

func TestRun_fetch_failure_is_fatal(t *testing.T) {
	t.Parallel()

	mirror := newFakeMirror()
	mirror.existed = true
	mirror.fetchErrs = []error{
		&git.FetchError{URL: "u"},
	}

	st := newFakeStore()

	err := importer.Run(
		context.Background(),
		testConfig(newFakeClient(), mirror, st),
	)

	require.Error(t, err)

	var fetchErr *git.FetchError

	assert.ErrorAs(t, err, &fetchErr)

	// Pre-existing repository: the content cache is
	// invalidated before the error is re-raised.
	assert.Equal(t, 1, mirror.expired)
	assert.Empty(t, st.reports)
}

func TestRun_fetch_failure_fresh_repo(t *testing.T) {
	t.Parallel()

	mirror := newFakeMirror()
	mirror.fetchErrs = []error{
		&git.FetchError{URL: "u"},
	}

	err := importer.Run(
		context.Background(),
		testConfig(
			newFakeClient(), mirror, newFakeStore(),
		),
	)

	require.Error(t, err)
	assert.Zero(t, mirror.expired)
}

func TestRun_translates_pull_request(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.prs = []bitbucket.PullRequest{
		mergedPR(1),
	}

	mirror := newFakeMirror()
	mirror.reachable["aaa"] = "aaa-full"
	mirror.reachable["bbb"] = "bbb-full"

	st := newFakeStore()
	st.users["alice@example.com"] = 10

	err := importer.Run(
		context.Background(),
		testConfig(client, mirror, st),
	)

	require.NoError(t, err)
	require.Len(t, st.created, 1)

	cr := st.created[0]
	assert.Equal(t, int64(1), cr.IID)
	assert.Equal(t, "Add feature", cr.Title)
	assert.Equal(t, "Body text", cr.Description)
	assert.Equal(t, store.StateMerged, cr.State)
	assert.Equal(t, int64(10), cr.AuthorID)
	assert.Equal(t, "aaa-full", cr.SourceSHA)
	assert.Equal(t, "bbb-full", cr.TargetSHA)
	assert.Equal(t, "bbb-full", cr.MergeCommitSHA)

	// Idempotence: destroy runs before create.
	assert.Equal(
		t,
		[]string{"destroy:1", "create:1"},
		st.ops,
	)

	// Clean run: no report flushed.
	assert.Empty(t, st.reports)
}

func TestRun_open_pr_has_no_merge_commit(
	t *testing.T,
) {
	t.Parallel()

	pr := mergedPR(2)
	pr.State = bitbucket.StateOpen
	pr.Merged = false

	client := newFakeClient()
	client.prs = []bitbucket.PullRequest{pr}

	st := newFakeStore()
	st.users["alice@example.com"] = 10

	err := importer.Run(
		context.Background(),
		testConfig(client, newFakeMirror(), st),
	)

	require.NoError(t, err)
	require.Len(t, st.created, 1)
	assert.Empty(t, st.created[0].MergeCommitSHA)

	// Unreachable SHAs fall back to the raw remote
	// values.
	assert.Equal(t, "aaa", st.created[0].SourceSHA)
	assert.Equal(t, "bbb", st.created[0].TargetSHA)
}

func TestRun_unknown_author_attribution(
	t *testing.T,
) {
	t.Parallel()

	client := newFakeClient()
	client.prs = []bitbucket.PullRequest{
		mergedPR(3),
	}

	st := newFakeStore()
	st.creator = 77

	err := importer.Run(
		context.Background(),
		testConfig(client, newFakeMirror(), st),
	)

	require.NoError(t, err)
	require.Len(t, st.created, 1)

	cr := st.created[0]
	assert.Equal(t, int64(77), cr.AuthorID)
	assert.Contains(t, cr.Description, "*By Alice")
	assert.Contains(
		t, cr.Description, "alice@example.com",
	)
	assert.Contains(t, cr.Description, "Body text")
}

func TestRun_restores_unreachable_branches(
	t *testing.T,
) {
	t.Parallel()

	client := newFakeClient()
	client.prs = []bitbucket.PullRequest{
		mergedPR(1),
	}

	mirror := newFakeMirror()
	// Target reachable, source not: only the source
	// branch may be restored.
	mirror.reachable["bbb"] = "bbb"

	st := newFakeStore()
	st.users["alice@example.com"] = 10

	err := importer.Run(
		context.Background(),
		testConfig(client, mirror, st),
	)

	require.NoError(t, err)
	require.Len(t, client.createdBranches, 1)
	assert.Equal(
		t,
		branchCall{
			name: "bbtest/import/pull-request/1/from",
			sha:  "aaa",
		},
		client.createdBranches[0],
	)

	// One initial sync plus one re-fetch for the
	// restored branch.
	assert.Equal(t, 2, mirror.fetches)
}

func TestRun_no_restore_when_reachable(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.prs = []bitbucket.PullRequest{
		mergedPR(1),
	}

	mirror := newFakeMirror()
	mirror.reachable["aaa"] = "aaa"
	mirror.reachable["bbb"] = "bbb"

	st := newFakeStore()
	st.users["alice@example.com"] = 10

	err := importer.Run(
		context.Background(),
		testConfig(client, mirror, st),
	)

	require.NoError(t, err)
	assert.Empty(t, client.createdBranches)
	assert.Equal(t, 1, mirror.fetches)
}

func TestRun_branch_restore_failure_warns_only(
	t *testing.T,
) {
	t.Parallel()

	client := newFakeClient()
	client.prs = []bitbucket.PullRequest{
		mergedPR(1),
	}
	client.createBranchErr = assert.AnError

	st := newFakeStore()
	st.users["alice@example.com"] = 10

	err := importer.Run(
		context.Background(),
		testConfig(client, newFakeMirror(), st),
	)

	require.NoError(t, err)

	// The pull request still imports and no error
	// record is produced.
	assert.Len(t, st.created, 1)
	assert.Empty(t, st.reports)
}

func TestRun_isolates_failing_pull_request(
	t *testing.T,
) {
	t.Parallel()

	client := newFakeClient()
	client.prs = []bitbucket.PullRequest{
		mergedPR(1), mergedPR(2), mergedPR(3),
	}

	st := newFakeStore()
	st.users["alice@example.com"] = 10
	st.createCRErr[2] = assert.AnError

	err := importer.Run(
		context.Background(),
		testConfig(client, newFakeMirror(), st),
	)

	require.NoError(t, err)

	// Siblings import despite the failure in the
	// middle.
	require.Len(t, st.created, 2)
	assert.Equal(t, int64(1), st.created[0].IID)
	assert.Equal(t, int64(3), st.created[1].IID)

	records := reportRecords(t, st)
	require.Len(t, records, 1)
	assert.Equal(t, "pull_request", records[0].Type)
	assert.Equal(t, int64(2), records[0].IID)
	assert.NotEmpty(t, records[0].Errors)
}

// testConfig builds a Config wired to the given fakes.
func testConfig(
	client *fakeClient,
	mirror *fakeMirror,
	st *fakeStore,
) importer.Config {
	return importer.Config{
		Project: importer.Project{
			Key:  "TM",
			Slug: "web",
		},
		Client:              client,
		Mirror:              mirror,
		Store:               st,
		TempBranchNamespace: "bbtest",
	}
}

// mergedPR builds a merged pull request by alice with
// the given iid.
func mergedPR(iid int64) bitbucket.PullRequest {
	return bitbucket.PullRequest{
		IID:          iid,
		Title:        "Add feature",
		Description:  "Body text",
		AuthorEmail:  "alice@example.com",
		AuthorName:   "Alice",
		State:        bitbucket.StateMerged,
		Merged:       true,
		SourceBranch: "feature/a",
		SourceSHA:    "aaa",
		TargetBranch: "main",
		TargetSHA:    "bbb",
		CreatedAt: time.Date(
			2020, time.January, 1,
			0, 0, 0, 0, time.UTC,
		),
	}
}

// reportRecord mirrors the persisted error report
// entry.
type reportRecord struct {
	Type   string `json:"type"`
	IID    int64  `json:"iid"`
	ID     int64  `json:"id"`
	Errors string `json:"errors"`
	Raw    string `json:"raw"`
}

// reportRecords decodes the single flushed report of a
// run.
func reportRecords(
	tb testing.TB,
	st *fakeStore,
) []reportRecord {
	tb.Helper()

	require.Len(tb, st.reports, 1)

	var report struct {
		Message string         `json:"message"`
		Errors  []reportRecord `json:"errors"`
	}

	require.NoError(tb, json.Unmarshal(
		st.reports[0], &report,
	))
	require.NotEmpty(tb, report.Message)

	return report.Errors
}
