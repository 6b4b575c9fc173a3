package clone

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-logr/logr"

	"github.com/themecloud/github-app-clone/pkg/apperror"
)

const (
	originRemote  = git.DefaultRemoteName
	branchRefSpec = "+refs/heads/*:refs/remotes/" + originRemote + "/*"
)

// Options describes a single clone and checkout
type Options struct {
	// Directory is the destination working tree
	Directory string
	// URL is the remote origin should point at, user info doubles as auth
	URL string
	// Branch, if set, is checked out tracking origin/<Branch>
	Branch string
	// Commit, if set, is the full or abbreviated revision HEAD is hard-reset to
	Commit string
	// StripCredentials rewrites origin without user info once done
	StripCredentials bool
}

// Result reports the state of the working tree after Run
type Result struct {
	// Head is the commit HEAD resolves to
	Head string
	// Branch is the checked out branch, empty when HEAD is detached
	Branch string
	// Cloned is false when an existing repository was reused
	Cloned bool
}

// Executor materializes a repository on the local filesystem
type Executor struct {
	logger logr.Logger
}

// NewExecutor creates a new Executor
func NewExecutor(logger logr.Logger) *Executor {
	return &Executor{logger: logger}
}

// Run clones opts.URL into opts.Directory, or reuses the repository already
// there, then applies the requested branch and commit
func (e *Executor) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Directory == "" {
		return nil, apperror.New(apperror.KindConfiguration, "clone directory is required")
	}
	if opts.URL == "" {
		return nil, apperror.New(apperror.KindConfiguration, "clone URL is required")
	}

	secret := password(opts.URL)
	result, err := e.run(ctx, opts, authFromURL(opts.URL))
	if err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) && appErr.Kind == apperror.KindGitOperation {
			appErr.Msg = scrub(appErr.Msg, secret)
			if appErr.Err != nil {
				appErr.Err = &scrubbedError{err: appErr.Err, secret: secret}
			}
			return nil, appErr
		}
		return nil, apperror.Wrap(apperror.KindGitOperation, &scrubbedError{err: err, secret: secret}, "git operation failed")
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, opts Options, auth transport.AuthMethod) (*Result, error) {
	log := e.logger.WithValues("directory", opts.Directory, "url", Redact(opts.URL))

	var (
		repo   *git.Repository
		cloned bool
		err    error
	)
	branch := opts.Branch
	if hasGitDir(opts.Directory) {
		log.Info("Reusing existing repository")
		repo, err = openRepository(opts.Directory)
		if err != nil {
			return nil, err
		}
		if err := setOrigin(repo, opts.URL); err != nil {
			return nil, err
		}
		unborn := !hasHeadCommit(repo)
		if unborn || opts.Branch != "" || opts.Commit != "" {
			log.V(1).Info("Fetching origin")
			if err := fetch(ctx, repo, auth); err != nil {
				return nil, err
			}
		}
		if unborn && branch == "" && opts.Commit == "" {
			branch, err = defaultBranch(ctx, repo, auth)
			if err != nil {
				return nil, err
			}
		}
	} else {
		log.Info("Cloning repository")
		repo, err = cloneRepository(ctx, opts.Directory, opts.URL, auth)
		if err != nil {
			return nil, err
		}
		cloned = true
	}

	if branch != "" {
		log.Info("Checking out branch", "branch", branch)
		if err := checkoutBranch(repo, branch); err != nil {
			return nil, err
		}
	}

	if opts.Commit != "" {
		log.Info("Resetting to commit", "commit", opts.Commit)
		if err := resetToCommit(repo, opts.Commit); err != nil {
			return nil, err
		}
	}

	if opts.StripCredentials {
		if err := setOrigin(repo, PlainURL(opts.URL)); err != nil {
			return nil, err
		}
	}

	result, err := describe(repo)
	if err != nil {
		return nil, err
	}
	if result.Head == "" {
		return nil, apperror.Newf(apperror.KindGitOperation, "repository in %s has no commits", opts.Directory)
	}
	result.Cloned = cloned

	log.Info("Repository ready", "head", result.Head, "branch", result.Branch, "cloned", result.Cloned)
	return result, nil
}

func hasGitDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, git.GitDirName))
	return err == nil
}

func hasHeadCommit(repo *git.Repository) bool {
	_, err := repo.Head()
	return err == nil
}

// cloneRepository clones into dir and on failure removes whatever the clone
// created there, leaving pre-existing files alone
func cloneRepository(ctx context.Context, dir, remoteURL string, auth transport.AuthMethod) (*git.Repository, error) {
	_, statErr := os.Stat(dir)
	existed := statErr == nil

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:        remoteURL,
		RemoteName: originRemote,
		Auth:       auth,
	})
	if err != nil {
		if existed {
			_ = os.RemoveAll(filepath.Join(dir, git.GitDirName))
		} else {
			_ = os.RemoveAll(dir)
		}
		return nil, apperror.Wrapf(apperror.KindGitOperation, err, "failed to clone %s", Redact(remoteURL))
	}
	return repo, nil
}

// openRepository opens the repository in dir, initializing a metadata
// directory that holds no repository yet
func openRepository(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
		if err != nil {
			return nil, apperror.Wrapf(apperror.KindGitOperation, err, "failed to initialize repository in %s", dir)
		}
		return repo, nil
	}
	if err != nil {
		return nil, apperror.Wrapf(apperror.KindGitOperation, err, "failed to open repository in %s", dir)
	}
	return repo, nil
}

// setOrigin points origin at remoteURL, replacing any previous URLs
func setOrigin(repo *git.Repository, remoteURL string) error {
	cfg, err := repo.Config()
	if err != nil {
		return apperror.Wrap(apperror.KindGitOperation, err, "failed to read repository config")
	}

	remote := &gitconfig.RemoteConfig{Name: originRemote, URLs: []string{remoteURL}}
	if existing, ok := cfg.Remotes[originRemote]; ok {
		remote.Fetch = existing.Fetch
	}
	if err := remote.Validate(); err != nil {
		return apperror.Wrapf(apperror.KindGitOperation, err, "invalid remote %s", Redact(remoteURL))
	}
	cfg.Remotes[originRemote] = remote

	if err := repo.SetConfig(cfg); err != nil {
		return apperror.Wrap(apperror.KindGitOperation, err, "failed to update origin")
	}
	return nil
}

func fetch(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: originRemote,
		Auth:       auth,
		Force:      true,
		RefSpecs:   []gitconfig.RefSpec{branchRefSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return apperror.Wrap(apperror.KindGitOperation, err, "failed to fetch origin")
	}
	return nil
}

// defaultBranch asks origin which branch its HEAD points at
func defaultBranch(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) (string, error) {
	remote, err := repo.Remote(originRemote)
	if err != nil {
		return "", apperror.Wrap(apperror.KindGitOperation, err, "failed to read origin")
	}
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return "", apperror.Wrap(apperror.KindGitOperation, err, "failed to list origin references")
	}

	var head *plumbing.Reference
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD {
			head = ref
			break
		}
	}
	if head == nil {
		return "", apperror.New(apperror.KindGitOperation, "origin has no default branch")
	}
	if head.Type() == plumbing.SymbolicReference && head.Target().IsBranch() {
		return head.Target().Short(), nil
	}
	for _, ref := range refs {
		if ref.Name().IsBranch() && ref.Hash() == head.Hash() {
			return ref.Name().Short(), nil
		}
	}
	return "", apperror.New(apperror.KindGitOperation, "origin has no default branch")
}

// checkoutBranch points the local branch at origin/<branch>, records
// upstream tracking and force-checks it out
func checkoutBranch(repo *git.Repository, branch string) error {
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(originRemote, branch), true)
	if err != nil {
		return apperror.Wrapf(apperror.KindGitOperation, err, "branch %q not found on %s", branch, originRemote)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(local, remoteRef.Hash())); err != nil {
		return apperror.Wrapf(apperror.KindGitOperation, err, "failed to update branch %q", branch)
	}

	cfg, err := repo.Config()
	if err != nil {
		return apperror.Wrap(apperror.KindGitOperation, err, "failed to read repository config")
	}
	cfg.Branches[branch] = &gitconfig.Branch{
		Name:   branch,
		Remote: originRemote,
		Merge:  local,
	}
	if err := repo.SetConfig(cfg); err != nil {
		return apperror.Wrapf(apperror.KindGitOperation, err, "failed to configure tracking for branch %q", branch)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return apperror.Wrap(apperror.KindGitOperation, err, "failed to open worktree")
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Force: true}); err != nil {
		return apperror.Wrapf(apperror.KindGitOperation, err, "failed to checkout branch %q", branch)
	}
	return nil
}

// resetToCommit hard-resets the working tree and current branch to commit
func resetToCommit(repo *git.Repository, commit string) error {
	hash, err := repo.ResolveRevision(plumbing.Revision(commit))
	if err != nil {
		return apperror.Wrapf(apperror.KindGitOperation, err, "commit %q not found", commit)
	}
	if _, err := repo.CommitObject(*hash); err != nil {
		return apperror.Wrapf(apperror.KindGitOperation, err, "%q is not a commit", commit)
	}

	// an unborn branch has no ref for the reset to move
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return apperror.Wrap(apperror.KindGitOperation, err, "failed to read HEAD")
	}
	if head.Type() == plumbing.SymbolicReference {
		if _, err := repo.Reference(head.Target(), false); errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := repo.Storer.SetReference(plumbing.NewHashReference(head.Target(), *hash)); err != nil {
				return apperror.Wrapf(apperror.KindGitOperation, err, "failed to create %s", head.Target().Short())
			}
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return apperror.Wrap(apperror.KindGitOperation, err, "failed to open worktree")
	}
	if err := wt.Reset(&git.ResetOptions{Commit: *hash, Mode: git.HardReset}); err != nil {
		return apperror.Wrapf(apperror.KindGitOperation, err, "failed to reset to %s", hash)
	}
	return nil
}

func describe(repo *git.Repository) (*Result, error) {
	result := &Result{}

	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindGitOperation, err, "failed to read HEAD")
	}
	if head.Type() == plumbing.SymbolicReference && head.Target().IsBranch() {
		result.Branch = head.Target().Short()
	}

	resolved, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return result, nil
	case err != nil:
		return nil, apperror.Wrap(apperror.KindGitOperation, err, "failed to resolve HEAD")
	}
	result.Head = resolved.Hash().String()
	return result, nil
}

// authFromURL turns user info in an http(s) remote URL into basic auth
func authFromURL(remoteURL string) transport.AuthMethod {
	ep, err := transport.NewEndpoint(remoteURL)
	if err != nil || ep.User == "" {
		return nil
	}
	if ep.Protocol != "https" && ep.Protocol != "http" {
		return nil
	}
	return &githttp.BasicAuth{Username: ep.User, Password: ep.Password}
}

type scrubbedError struct {
	err    error
	secret string
}

func (e *scrubbedError) Error() string {
	return scrub(e.err.Error(), e.secret)
}

func (e *scrubbedError) Unwrap() error {
	return e.err
}
