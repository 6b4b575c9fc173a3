package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/themecloud/github-app-clone/pkg/apperror"
	"github.com/themecloud/github-app-clone/pkg/clone"
	"github.com/themecloud/github-app-clone/pkg/config"
	"github.com/themecloud/github-app-clone/pkg/github"
	"github.com/themecloud/github-app-clone/pkg/pipeline"
)

const defaultConfigPath = "ghclone.yaml"

// overrides holds flag values that take precedence over file and environment
type overrides struct {
	appID                 string
	privateKeyPath        string
	account               string
	installationSelection string
	installationID        int64
	apiURL                string
	repository            string
	branch                string
	commit                string
	directory             string
	stripCredentials      bool
	apiTimeout            time.Duration
	gitTimeout            time.Duration
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		envFiles   []string
		o          overrides
	)

	zapOpts := crzap.Options{
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}

	cmd := &cobra.Command{
		Use:   "ghclone [flags] [REPOSITORY [DIRECTORY]]",
		Short: "Clone a repository as a GitHub App installation",
		Long: `Authenticate as a GitHub App, mint an installation token for the selected
installation and clone REPOSITORY (owner/name or a git remote URL) into
DIRECTORY, optionally checking out a branch and resetting to a commit.`,
		Args:          positionalArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := crzap.New(crzap.UseFlagOptions(&zapOpts), crzap.WriteTo(cmd.ErrOrStderr()))
			crlog.SetLogger(logger)

			if cmd.Flags().Changed("config") {
				if err := requireFile(configPath); err != nil {
					return err
				}
			}

			cfg, err := config.Load(cmd.Context(), configPath, envFiles...)
			if err != nil {
				return err
			}
			if err := applyOverrides(cmd.Flags(), cfg, &o, args); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			result, err := run(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), summary(result))
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperror.Wrap(apperror.KindConfiguration, err, "invalid flags")
	})

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", defaultConfigPath, "Path to the YAML configuration file.")
	flags.StringArrayVar(&envFiles, "env-file", nil, "Load environment variables from a .env file. May be repeated.")

	bindOverrideFlags(flags, &o)

	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	zapOpts.BindFlags(goFlags)
	flags.AddGoFlagSet(goFlags)

	return cmd
}

// bindOverrideFlags registers the flags that override configuration values
func bindOverrideFlags(flags *pflag.FlagSet, o *overrides) {
	flags.StringVar(&o.appID, "app-id", "", "GitHub App ID.")
	flags.StringVar(&o.privateKeyPath, "private-key-path", "", "Path to the GitHub App private key (PEM).")
	flags.StringVar(&o.account, "account", "", "Account login whose installation is used.")
	flags.StringVar(&o.installationSelection, "installation-selection", "",
		fmt.Sprintf("Installation selection strategy: %s, %s or %s.", config.SelectByAccount, config.SelectFirst, config.SelectByID))
	flags.Int64Var(&o.installationID, "installation-id", 0, "Installation ID for the id selection strategy.")
	flags.StringVar(&o.apiURL, "api-url", "", "GitHub API base URL.")
	flags.StringVar(&o.repository, "repo", "", "Repository to clone, owner/name or a git remote URL.")
	flags.StringVar(&o.branch, "branch", "", "Branch to check out after cloning.")
	flags.StringVar(&o.commit, "commit", "", "Commit to hard-reset to after cloning.")
	flags.StringVar(&o.directory, "dir", "", "Destination directory.")
	flags.BoolVar(&o.stripCredentials, "strip-credentials", false, "Remove the token from the origin URL once done.")
	flags.DurationVar(&o.apiTimeout, "api-timeout", 0, "Timeout for GitHub API calls.")
	flags.DurationVar(&o.gitTimeout, "git-timeout", 0, "Timeout for git operations.")
}

func positionalArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(2)(cmd, args); err != nil {
		return apperror.Wrap(apperror.KindConfiguration, err, "invalid arguments")
	}
	return nil
}

func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperror.Newf(apperror.KindConfiguration, "config file %s does not exist", path)
		}
		return apperror.Wrapf(apperror.KindConfiguration, err, "failed to read config file %s", path)
	}
	return nil
}

// applyOverrides copies explicitly set flags and positional arguments into cfg
func applyOverrides(flags *pflag.FlagSet, cfg *config.Config, o *overrides, args []string) error {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("app-id", func() { cfg.GitHub.AppID = o.appID })
	set("private-key-path", func() {
		cfg.GitHub.PrivateKeyPath = o.privateKeyPath
		cfg.GitHub.PrivateKey = ""
	})
	set("account", func() { cfg.GitHub.Account = o.account })
	set("installation-selection", func() { cfg.GitHub.InstallationSelection = o.installationSelection })
	set("installation-id", func() { cfg.GitHub.InstallationID = o.installationID })
	set("api-url", func() { cfg.GitHub.APIURL = o.apiURL })
	set("repo", func() { cfg.Repository.Reference = o.repository })
	set("branch", func() { cfg.Repository.Branch = o.branch })
	set("commit", func() { cfg.Repository.Commit = o.commit })
	set("dir", func() { cfg.Repository.Directory = o.directory })
	set("strip-credentials", func() { cfg.Repository.StripCredentials = o.stripCredentials })
	set("api-timeout", func() { cfg.Timeouts.API = o.apiTimeout })
	set("git-timeout", func() { cfg.Timeouts.Git = o.gitTimeout })

	if len(args) > 0 {
		if flags.Changed("repo") {
			return apperror.New(apperror.KindConfiguration, "repository given both as argument and --repo")
		}
		cfg.Repository.Reference = args[0]
	}
	if len(args) > 1 {
		if flags.Changed("dir") {
			return apperror.New(apperror.KindConfiguration, "directory given both as argument and --dir")
		}
		cfg.Repository.Directory = args[1]
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, logger logr.Logger) (*pipeline.Result, error) {
	client, err := github.NewClient(&cfg.GitHub, &http.Client{Timeout: cfg.Timeouts.API}, logger.WithName("github"))
	if err != nil {
		return nil, err
	}

	runner := &pipeline.Runner{
		GitHub: client,
		Cloner: clone.NewExecutor(logger.WithName("git")),
		Logger: logger.WithName("pipeline"),
	}
	return runner.Run(ctx, cfg)
}

// summary is the single stdout line reported for a successful run
func summary(r *pipeline.Result) string {
	verb, prep := "Cloned", "into"
	if !r.Cloned {
		verb, prep = "Updated", "in"
	}
	checkout := "detached HEAD"
	if r.Branch != "" {
		checkout = "branch " + r.Branch
	}
	return fmt.Sprintf("%s %s %s %s at %s on %s (installation %d, account %s)",
		verb, r.Repository, prep, r.Directory, r.Head, checkout, r.InstallationID, r.Account)
}
