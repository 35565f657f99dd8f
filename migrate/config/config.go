// Package config loads the optional YAML run
// configuration for the migration CLI. Flags override
// anything loaded here.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Project selects one source repository to migrate.
type Project struct {
	// Key is the Bitbucket project key.
	Key string `yaml:"key"`
	// Slug is the repository slug.
	Slug string `yaml:"slug"`
	// CloneURL optionally overrides the clone URL
	// reported by the server.
	CloneURL string `yaml:"clone_url,omitempty"`
}

// Bitbucket holds source server settings.
type Bitbucket struct {
	// BaseURL is the server root URL.
	BaseURL string `yaml:"base_url"`
	// User is the API username.
	User string `yaml:"user"`
	// Password is the API password or token.
	Password string `yaml:"password"`
}

// GitLab holds GitLab destination settings.
type GitLab struct {
	// Host is the GitLab instance URL.
	Host string `yaml:"host,omitempty"`
	// Project is the full project path or id.
	Project string `yaml:"project"`
	// AccessToken authenticates API calls.
	AccessToken string `yaml:"access_token"`
	// GhostUserID is the placeholder user id for
	// unresolvable authors.
	GhostUserID int64 `yaml:"ghost_user_id,omitempty"`
}

// GitHub holds GitHub destination settings.
type GitHub struct {
	// RepoOwner is the owning user or organisation.
	RepoOwner string `yaml:"repo_owner"`
	// Repo is the repository name.
	Repo string `yaml:"repo"`
	// AccessToken authenticates API calls.
	AccessToken string `yaml:"access_token"`
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname.
	EnterpriseHost string `yaml:"enterprise_host,omitempty"`
}

// Config is the full file shape.
type Config struct {
	// Bitbucket is the migration source.
	Bitbucket Bitbucket `yaml:"bitbucket"`
	// Destination selects the store: "gitlab" or
	// "github".
	Destination string `yaml:"destination"`
	// GitLab configures the GitLab destination.
	GitLab GitLab `yaml:"gitlab,omitempty"`
	// GitHub configures the GitHub destination.
	GitHub GitHub `yaml:"github,omitempty"`
	// MirrorRoot is the directory holding the local
	// mirrors, one subdirectory per project.
	MirrorRoot string `yaml:"mirror_root,omitempty"`
	// BatchSize overrides the pull request batch size.
	BatchSize int `yaml:"batch_size,omitempty"`
	// TempBranchNamespace overrides the temp branch
	// prefix.
	TempBranchNamespace string `yaml:"temp_branch_namespace,omitempty"`
	// AttributionTemplate overrides the attribution
	// line template.
	AttributionTemplate string `yaml:"attribution_template,omitempty"`
	// Concurrency bounds how many projects migrate at
	// once.
	Concurrency int `yaml:"concurrency,omitempty"`
	// Projects lists the repositories to migrate.
	Projects []Project `yaml:"projects"`
}

// Load reads and decodes the configuration file at
// path.
func Load(path string) (*Config, error) {
	const errCtx = "loading config"

	raw, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	var cfg Config

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf(
			"%s: decoding yaml: %w", errCtx, err,
		)
	}

	return &cfg, nil
}
