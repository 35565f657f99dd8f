package importer_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
	"github.com/byte4ever/bbmigrate/migrate/store"
)

// fakeClient is an in-memory importer.Client.
type fakeClient struct {
	repo       *bitbucket.Repo
	prs        []bitbucket.PullRequest
	activities map[int64][]bitbucket.Activity

	activitiesErr   map[int64]error
	createBranchErr error

	createdBranches []branchCall
}

// branchCall records one CreateBranch invocation.
type branchCall struct {
	name string
	sha  string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		repo: &bitbucket.Repo{
			Slug:     "web",
			Name:     "Web",
			CloneURL: "https://bb.example.com/web.git",
		},
		activities:    map[int64][]bitbucket.Activity{},
		activitiesErr: map[int64]error{},
	}
}

func (f *fakeClient) Repo(
	_ context.Context,
	_ string,
	_ string,
) (*bitbucket.Repo, error) {
	return f.repo, nil
}

func (f *fakeClient) PullRequests(
	_ context.Context,
	_ string,
	_ string,
) ([]bitbucket.PullRequest, error) {
	return f.prs, nil
}

func (f *fakeClient) Activities(
	_ context.Context,
	_ string,
	_ string,
	iid int64,
) ([]bitbucket.Activity, error) {
	if err := f.activitiesErr[iid]; err != nil {
		return nil, err
	}

	return f.activities[iid], nil
}

func (f *fakeClient) CreateBranch(
	_ context.Context,
	_ string,
	_ string,
	name string,
	sha string,
) error {
	if f.createBranchErr != nil {
		return f.createBranchErr
	}

	f.createdBranches = append(
		f.createdBranches,
		branchCall{name: name, sha: sha},
	)

	return nil
}

// fakeMirror is an in-memory importer.Mirror.
type fakeMirror struct {
	// reachable maps SHAs to their resolved commit
	// ids.
	reachable map[string]string

	existed   bool
	ensureErr error
	// fetchErrs are consumed one per FetchAsMirror
	// call; nil entries mean success.
	fetchErrs []error

	fetches int
	expired int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		reachable: map[string]string{},
	}
}

func (f *fakeMirror) EnsureRepository(
	_ context.Context,
) error {
	return f.ensureErr
}

func (f *fakeMirror) FetchAsMirror(
	_ context.Context,
	_ string,
	_ []string,
) error {
	f.fetches++

	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]

		return err
	}

	return nil
}

func (f *fakeMirror) Commit(
	_ context.Context,
	sha string,
) (string, bool) {
	resolved, ok := f.reachable[sha]

	return resolved, ok
}

func (f *fakeMirror) ExpireContentCache(
	_ context.Context,
) error {
	f.expired++

	return nil
}

func (f *fakeMirror) Existed() bool {
	return f.existed
}

// noteCall records one CreateNote invocation together
// with the discussion id handed back.
type noteCall struct {
	iid          int64
	note         store.DiscussionNote
	discussionID string
}

// fakeStore is an in-memory store.Store recording every
// call in order.
type fakeStore struct {
	users   map[string]int64
	creator int64
	ghost   int64

	createCRErr map[int64]error
	// noteErrBodies fails CreateNote for notes whose
	// body contains the given substring.
	noteErrBodies []string

	ops         []string
	created     []store.ChangeRequest
	destroyed   []int64
	notes       []noteCall
	merges      map[int64]store.MergeMetadata
	userLookups []string
	reports     [][]byte

	nextDiscussion int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]int64{},
		creator:     1,
		ghost:       99,
		createCRErr: map[int64]error{},
		merges:      map[int64]store.MergeMetadata{},
	}
}

func (f *fakeStore) CreateChangeRequest(
	_ context.Context,
	cr *store.ChangeRequest,
) error {
	if err := f.createCRErr[cr.IID]; err != nil {
		return err
	}

	f.ops = append(
		f.ops, fmt.Sprintf("create:%d", cr.IID),
	)
	f.created = append(f.created, *cr)

	return nil
}

func (f *fakeStore) DestroyChangeRequest(
	_ context.Context,
	iid int64,
) error {
	f.ops = append(
		f.ops, fmt.Sprintf("destroy:%d", iid),
	)
	f.destroyed = append(f.destroyed, iid)

	return nil
}

func (f *fakeStore) CreateNote(
	_ context.Context,
	iid int64,
	note *store.DiscussionNote,
) (string, error) {
	for _, s := range f.noteErrBodies {
		if s != "" &&
			strings.Contains(note.Body, s) {
			return "", fmt.Errorf(
				"note rejected: %s", s,
			)
		}
	}

	discussionID := note.DiscussionID
	if discussionID == "" && note.Position != nil {
		f.nextDiscussion++
		discussionID = fmt.Sprintf(
			"disc-%d", f.nextDiscussion,
		)
	}

	f.notes = append(f.notes, noteCall{
		iid:          iid,
		note:         *note,
		discussionID: discussionID,
	})

	return discussionID, nil
}

func (f *fakeStore) UpsertMergeMetadata(
	_ context.Context,
	iid int64,
	md store.MergeMetadata,
) error {
	f.merges[iid] = md

	return nil
}

func (f *fakeStore) UserIDByEmail(
	_ context.Context,
	email string,
) (int64, bool, error) {
	f.userLookups = append(f.userLookups, email)

	id, ok := f.users[email]

	return id, ok, nil
}

func (f *fakeStore) CreatorID(
	_ context.Context,
) (int64, error) {
	return f.creator, nil
}

func (f *fakeStore) GhostUserID(
	_ context.Context,
) (int64, error) {
	return f.ghost, nil
}

func (f *fakeStore) SaveImportReport(
	_ context.Context,
	report []byte,
) error {
	f.reports = append(f.reports, report)

	return nil
}
