package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v2"

	"github.com/themecloud/github-app-clone/pkg/apperror"
)

// Installation selection strategies
const (
	SelectByAccount = "account"
	SelectFirst     = "first"
	SelectByID      = "id"
)

const (
	DefaultAPIURL     = "https://api.github.com/"
	DefaultDirectory  = "repo-clone"
	DefaultAPITimeout = 30 * time.Second
	DefaultGitTimeout = 10 * time.Minute
)

// Config holds the clone run configuration
type Config struct {
	GitHub     GitHubConfig     `yaml:"github"`
	Repository RepositoryConfig `yaml:"repository"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
}

// GitHubConfig holds GitHub App configuration
type GitHubConfig struct {
	AppID          string `yaml:"appId" env:"GITHUB_APP_ID, overwrite"`
	PrivateKey     string `yaml:"privateKey" env:"GITHUB_APP_PRIVATE_KEY, overwrite"`
	PrivateKeyPath string `yaml:"privateKeyPath" env:"GITHUB_APP_PRIVATE_KEY_PATH, overwrite"`

	// Account is the user or organization login whose installation is used
	Account               string `yaml:"account" env:"GITHUB_ACCOUNT, overwrite"`
	InstallationSelection string `yaml:"installationSelection" env:"GITHUB_INSTALLATION_SELECTION, overwrite"`
	InstallationID        int64  `yaml:"installationId" env:"GITHUB_INSTALLATION_ID, overwrite"`

	APIURL string `yaml:"apiUrl" env:"GITHUB_API_URL, overwrite"`
}

// RepositoryConfig describes what to clone and where
type RepositoryConfig struct {
	Reference string `yaml:"reference" env:"GITHUB_REPOSITORY_REF, overwrite"`
	Branch    string `yaml:"branch" env:"GIT_BRANCH, overwrite"`
	Commit    string `yaml:"commit" env:"GIT_COMMIT, overwrite"`
	Directory string `yaml:"directory" env:"CLONE_DIR, overwrite"`

	// StripCredentials rewrites origin to the unauthenticated clone URL once
	// the working tree is in place
	StripCredentials bool `yaml:"stripCredentials" env:"STRIP_CREDENTIALS, overwrite"`
}

// TimeoutConfig bounds the blocking steps of a run
type TimeoutConfig struct {
	API time.Duration `yaml:"api" env:"API_TIMEOUT, overwrite"`
	Git time.Duration `yaml:"git" env:"GIT_TIMEOUT, overwrite"`
}

// Default returns a configuration with every optional field populated
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			InstallationSelection: SelectByAccount,
			APIURL:                DefaultAPIURL,
		},
		Repository: RepositoryConfig{
			Directory: DefaultDirectory,
		},
		Timeouts: TimeoutConfig{
			API: DefaultAPITimeout,
			Git: DefaultGitTimeout,
		},
	}
}

// Load reads configuration from the optional YAML file at configPath, then
// the given .env files, then the process environment, later sources winning;
// the result is not validated
func Load(ctx context.Context, configPath string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, apperror.Wrapf(apperror.KindConfiguration, err, "failed to unmarshal config %s", configPath)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, apperror.Wrap(apperror.KindConfiguration, err, "failed to read config file")
		}
	}

	// godotenv never overrides variables already present in the environment
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, apperror.Wrap(apperror.KindConfiguration, err, "failed to load env file")
		}
	}

	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, apperror.Wrap(apperror.KindConfiguration, err, "invalid environment")
	}

	return cfg, nil
}

// Validate checks required fields and strategy-specific requirements
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.GitHub.AppID) == "" {
		problems = append(problems, "GitHub App ID is required")
	}
	if c.GitHub.PrivateKey == "" && c.GitHub.PrivateKeyPath == "" {
		problems = append(problems, "GitHub private key or private key path is required")
	}

	// an empty selection means account
	switch c.GitHub.InstallationSelection {
	case SelectByAccount, "":
		if c.GitHub.Account == "" {
			problems = append(problems, "GitHub account is required for installation selection \"account\"")
		}
	case SelectByID:
		if c.GitHub.InstallationID <= 0 {
			problems = append(problems, "GitHub installation ID is required for installation selection \"id\"")
		}
	case SelectFirst:
	default:
		problems = append(problems, fmt.Sprintf("unknown installation selection %q", c.GitHub.InstallationSelection))
	}

	if strings.TrimSpace(c.Repository.Reference) == "" {
		problems = append(problems, "repository reference is required")
	}
	if c.Repository.Directory == "" {
		problems = append(problems, "clone directory is required")
	}

	if c.Timeouts.API <= 0 {
		problems = append(problems, "API timeout must be positive")
	}
	if c.Timeouts.Git <= 0 {
		problems = append(problems, "git timeout must be positive")
	}

	if len(problems) > 0 {
		return apperror.New(apperror.KindConfiguration, strings.Join(problems, "; "))
	}
	return nil
}
