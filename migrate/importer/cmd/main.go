// Command migrate_pull_requests migrates the pull
// requests of one or more Bitbucket Server repositories
// into change requests on a GitLab or GitHub
// destination, mirroring each repository locally and
// restoring branches the server has made unreachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
	"github.com/byte4ever/bbmigrate/migrate/config"
	"github.com/byte4ever/bbmigrate/migrate/git"
	"github.com/byte4ever/bbmigrate/migrate/importer"
	"github.com/byte4ever/bbmigrate/migrate/store"
	ghstore "github.com/byte4ever/bbmigrate/migrate/store/github"
	glstore "github.com/byte4ever/bbmigrate/migrate/store/gitlab"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // CLI flag setup is inherently long
func run() error {
	const errCtx = "running migrate_pull_requests"

	configPath := flag.String(
		"config", "",
		"Path to a YAML configuration file",
	)

	// Bitbucket flags.
	bbBaseURL := flag.String(
		"bitbucket_base_url", "",
		"Bitbucket Server root URL",
	)
	bbUser := flag.String(
		"bitbucket_user", "",
		"Bitbucket API username",
	)
	bbPassword := flag.String(
		"bitbucket_password", "",
		"Bitbucket API password or token",
	)

	// Project selection: repeated KEY/slug pairs.
	var projects sliceFlag

	flag.Var(
		&projects,
		"project",
		"Project to migrate as KEY/slug (repeatable)",
	)

	// Destination selection.
	destination := flag.String(
		"destination", "",
		"Destination platform: gitlab or github "+
			"(default gitlab)",
	)

	// GitLab-specific flags.
	glHost := flag.String(
		"gitlab_host", "",
		"GitLab instance URL",
	)
	glProject := flag.String(
		"gitlab_project", "",
		"GitLab project path (org/project)",
	)
	glToken := flag.String(
		"gitlab_access_token", "",
		"GitLab personal access token",
	)
	glGhost := flag.Int64(
		"gitlab_ghost_user_id", 0,
		"GitLab user id for unresolvable authors",
	)

	// GitHub-specific flags.
	ghRepoOwner := flag.String(
		"github_repo_owner", "",
		"GitHub repository owner",
	)
	ghRepo := flag.String(
		"github_repo", "",
		"GitHub repository name",
	)
	ghToken := flag.String(
		"github_access_token", "",
		"GitHub personal access token",
	)
	ghEnterprise := flag.String(
		"github_enterprise_host", "",
		"GitHub Enterprise hostname",
	)

	// Run tuning flags.
	mirrorRoot := flag.String(
		"mirror_root", "",
		"Directory holding local mirrors "+
			"(default under the system temp dir)",
	)
	batchSize := flag.Int(
		"batch_size", 0,
		"Pull requests per batch (0 = default)",
	)
	tempNamespace := flag.String(
		"temp_branch_namespace", "",
		"Prefix for restored temp branches",
	)
	concurrency := flag.Int(
		"concurrency", 0,
		"Projects migrated at once (default 1)",
	)

	flag.Parse()

	cfg := &config.Config{}

	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		cfg = loaded
	}

	mergeFlags(cfg, flagValues{
		bbBaseURL:     *bbBaseURL,
		bbUser:        *bbUser,
		bbPassword:    *bbPassword,
		destination:   *destination,
		glHost:        *glHost,
		glProject:     *glProject,
		glToken:       *glToken,
		glGhost:       *glGhost,
		ghRepoOwner:   *ghRepoOwner,
		ghRepo:        *ghRepo,
		ghToken:       *ghToken,
		ghEnterprise:  *ghEnterprise,
		mirrorRoot:    *mirrorRoot,
		batchSize:     *batchSize,
		tempNamespace: *tempNamespace,
		concurrency:   *concurrency,
		projects:      projects,
	})

	if cfg.Destination == "" {
		cfg.Destination = "gitlab"
	}

	if cfg.MirrorRoot == "" {
		cfg.MirrorRoot = filepath.Join(
			os.TempDir(), "bbmigrate",
		)
	}

	if len(cfg.Projects) == 0 {
		return fmt.Errorf(
			"%s: no projects to migrate", errCtx,
		)
	}

	client, err := bitbucket.NewClient(
		bitbucket.Config{
			BaseURL:  cfg.Bitbucket.BaseURL,
			User:     cfg.Bitbucket.User,
			Password: cfg.Bitbucket.Password,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := migrateAll(
		context.Background(), cfg, client,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// migrateAll runs one migration per configured project,
// bounded by the configured concurrency. Each run owns
// its own store, mirror, caches, and accumulators:
// nothing mutable is shared between concurrent runs.
func migrateAll(
	ctx context.Context,
	cfg *config.Config,
	client *bitbucket.Client,
) error {
	g, ctx := errgroup.WithContext(ctx)

	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}

	g.SetLimit(limit)

	for _, project := range cfg.Projects {
		g.Go(func() error {
			st, err := newStore(cfg)
			if err != nil {
				return err
			}

			mirrorDir := filepath.Join(
				cfg.MirrorRoot,
				project.Key,
				project.Slug+".git",
			)

			runCfg := importer.Config{
				Project: importer.Project{
					Key:  project.Key,
					Slug: project.Slug,
				},
				Client:    client,
				Mirror:    git.NewMirror(mirrorDir),
				Store:     st,
				CloneURL:  project.CloneURL,
				BatchSize: cfg.BatchSize,
			}

			runCfg.TempBranchNamespace =
				cfg.TempBranchNamespace
			runCfg.AttributionTemplate =
				cfg.AttributionTemplate

			return importer.Run(ctx, runCfg)
		})
	}

	return g.Wait()
}

// newStore creates a destination store based on the
// configured platform. Pattern: Factory -- selects
// destination implementation at runtime.
func newStore(
	cfg *config.Config,
) (store.Store, error) {
	const errCtx = "creating destination store"

	switch cfg.Destination {
	case "gitlab":
		st, err := glstore.NewStore(glstore.Config{
			Host:        cfg.GitLab.Host,
			Project:     cfg.GitLab.Project,
			AccessToken: cfg.GitLab.AccessToken,
			GhostUserID: cfg.GitLab.GhostUserID,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return st, nil

	case "github":
		st, err := ghstore.NewStore(ghstore.Config{
			RepoOwner:      cfg.GitHub.RepoOwner,
			Repo:           cfg.GitHub.Repo,
			AccessToken:    cfg.GitHub.AccessToken,
			EnterpriseHost: cfg.GitHub.EnterpriseHost,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return st, nil

	default:
		return nil, fmt.Errorf(
			"%s: unknown destination %q",
			errCtx, cfg.Destination,
		)
	}
}

// flagValues bundles parsed flag values to keep
// mergeFlags under the argument limit.
type flagValues struct {
	bbBaseURL     string
	bbUser        string
	bbPassword    string
	destination   string
	glHost        string
	glProject     string
	glToken       string
	glGhost       int64
	ghRepoOwner   string
	ghRepo        string
	ghToken       string
	ghEnterprise  string
	mirrorRoot    string
	batchSize     int
	tempNamespace string
	concurrency   int
	projects      []string
}

// mergeFlags overlays non-zero flag values onto the
// file-loaded configuration.
func mergeFlags(cfg *config.Config, fv flagValues) {
	if fv.bbBaseURL != "" {
		cfg.Bitbucket.BaseURL = fv.bbBaseURL
	}

	if fv.bbUser != "" {
		cfg.Bitbucket.User = fv.bbUser
	}

	if fv.bbPassword != "" {
		cfg.Bitbucket.Password = fv.bbPassword
	}

	if fv.destination != "" {
		cfg.Destination = fv.destination
	}

	if fv.glHost != "" {
		cfg.GitLab.Host = fv.glHost
	}

	if fv.glProject != "" {
		cfg.GitLab.Project = fv.glProject
	}

	if fv.glToken != "" {
		cfg.GitLab.AccessToken = fv.glToken
	}

	if fv.glGhost != 0 {
		cfg.GitLab.GhostUserID = fv.glGhost
	}

	if fv.ghRepoOwner != "" {
		cfg.GitHub.RepoOwner = fv.ghRepoOwner
	}

	if fv.ghRepo != "" {
		cfg.GitHub.Repo = fv.ghRepo
	}

	if fv.ghToken != "" {
		cfg.GitHub.AccessToken = fv.ghToken
	}

	if fv.ghEnterprise != "" {
		cfg.GitHub.EnterpriseHost = fv.ghEnterprise
	}

	if fv.mirrorRoot != "" {
		cfg.MirrorRoot = fv.mirrorRoot
	}

	if fv.batchSize > 0 {
		cfg.BatchSize = fv.batchSize
	}

	if fv.tempNamespace != "" {
		cfg.TempBranchNamespace = fv.tempNamespace
	}

	if fv.concurrency > 0 {
		cfg.Concurrency = fv.concurrency
	}

	for _, p := range fv.projects {
		key, slug, ok := strings.Cut(p, "/")
		if !ok {
			slog.Warn(
				"skipping malformed project",
				"project", p,
			)

			continue
		}

		cfg.Projects = append(
			cfg.Projects,
			config.Project{Key: key, Slug: slug},
		)
	}
}

// sliceFlag implements flag.Value for multi-value
// string flags (repeated --flag=val usage).
type sliceFlag []string

// String returns the flag value as a comma-separated
// string representation.
func (s *sliceFlag) String() string {
	if s == nil {
		return ""
	}

	return strings.Join(*s, ",")
}

// Set appends a value to the slice.
func (s *sliceFlag) Set(val string) error {
	*s = append(*s, val)

	return nil
}
