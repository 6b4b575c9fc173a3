package pipeline

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/themecloud/github-app-clone/pkg/clone"
	"github.com/themecloud/github-app-clone/pkg/config"
	"github.com/themecloud/github-app-clone/pkg/github"
	"github.com/themecloud/github-app-clone/pkg/token"
)

// Cloner materializes a repository on disk
type Cloner interface {
	Run(ctx context.Context, opts clone.Options) (*clone.Result, error)
}

// Result summarizes a completed run
type Result struct {
	Repository     string
	InstallationID int64
	Account        string
	Directory      string
	Head           string
	Branch         string
	Cloned         bool
}

// Runner authenticates as a GitHub App installation and clones one
// repository with the installation token
type Runner struct {
	GitHub github.AppClient
	Cloner Cloner
	Logger logr.Logger
}

// Run executes a single clone described by cfg, parsing the reference
// before any network call is made
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	log := r.Logger

	ref, err := github.ParseReference(cfg.Repository.Reference)
	if err != nil {
		return nil, err
	}
	if err := r.GitHub.ValidateReference(ref); err != nil {
		return nil, err
	}
	log = log.WithValues("repository", ref.String())

	selector, err := github.NewSelector(&cfg.GitHub)
	if err != nil {
		return nil, err
	}

	installations, err := apiStep(ctx, cfg.Timeouts.API, r.GitHub.ListInstallations)
	if err != nil {
		return nil, err
	}
	installation, err := selector.Select(installations)
	if err != nil {
		return nil, err
	}
	log = log.WithValues("installationID", installation.GetID())
	log.Info("Selected installation",
		"selector", selector.String(),
		"account", installation.GetAccount().GetLogin())

	src := token.NewSource(r.GitHub, installation.GetID(), []string{ref.Name}, log)

	tok, err := apiStep(ctx, cfg.Timeouts.API, src.Token)
	if err != nil {
		return nil, err
	}

	cloneURL, err := apiStep(ctx, cfg.Timeouts.API, func(ctx context.Context) (string, error) {
		return r.GitHub.RepositoryCloneURL(ctx, src.OAuth2(ctx), ref)
	})
	if err != nil {
		return nil, err
	}
	log.V(1).Info("Resolved clone URL", "cloneURL", cloneURL)

	authURL, err := clone.AuthenticatedURL(cloneURL, tok.Value())
	if err != nil {
		return nil, err
	}

	gitCtx, cancelGit := context.WithTimeout(ctx, cfg.Timeouts.Git)
	defer cancelGit()

	cloned, err := r.Cloner.Run(gitCtx, clone.Options{
		Directory:        cfg.Repository.Directory,
		URL:              authURL,
		Branch:           cfg.Repository.Branch,
		Commit:           cfg.Repository.Commit,
		StripCredentials: cfg.Repository.StripCredentials,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Repository:     ref.String(),
		InstallationID: installation.GetID(),
		Account:        installation.GetAccount().GetLogin(),
		Directory:      cfg.Repository.Directory,
		Head:           cloned.Head,
		Branch:         cloned.Branch,
		Cloned:         cloned.Cloned,
	}, nil
}

// apiStep bounds a single GitHub API call by timeout
func apiStep[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(stepCtx)
}
