package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
)

// branchSpec pairs a temporary branch name with the SHA
// it must point at.
type branchSpec struct {
	Name string
	SHA  string
}

// tempBranches computes the two candidate temp-branch
// specs for a pull request: one per role, named
// <namespace>/import/pull-request/<iid>/<role>.
func tempBranches(
	namespace string,
	pr *bitbucket.PullRequest,
) []branchSpec {
	return []branchSpec{
		{
			Name: tempBranchName(
				namespace, pr.IID, "from",
			),
			SHA: pr.SourceSHA,
		},
		{
			Name: tempBranchName(
				namespace, pr.IID, "to",
			),
			SHA: pr.TargetSHA,
		},
	}
}

// tempBranchName formats one temporary branch name.
func tempBranchName(
	namespace string,
	iid int64,
	role string,
) string {
	return fmt.Sprintf(
		"%s/import/pull-request/%d/%s",
		namespace, iid, role,
	)
}

// restoreBranches creates remote branches for every SHA
// in the batch that is not reachable locally, making
// the commits fetchable again. Returns the names of the
// branches actually created. Individual failures are
// warnings only: the pull request may still partially
// import with the raw SHA.
func (r *run) restoreBranches(
	ctx context.Context,
	batch []bitbucket.PullRequest,
) []string {
	var created []string

	for i := range batch {
		specs := tempBranches(
			r.cfg.TempBranchNamespace, &batch[i],
		)

		for _, spec := range specs {
			if _, ok := r.cfg.Mirror.Commit(
				ctx, spec.SHA,
			); ok {
				continue
			}

			err := r.cfg.Client.CreateBranch(
				ctx,
				r.cfg.Project.Key,
				r.cfg.Project.Slug,
				spec.Name,
				spec.SHA,
			)
			if err != nil {
				slog.Warn(
					"failed to restore branch",
					"branch", spec.Name,
					"sha", spec.SHA,
					"error", err,
				)

				continue
			}

			created = append(created, spec.Name)
		}
	}

	return created
}
