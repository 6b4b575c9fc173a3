package github

import (
	"context"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/themecloud/github-app-clone/pkg/token"
)

// AppClient interface defines the methods needed for GitHub operations
type AppClient interface {
	ValidateReference(ref Reference) error
	ListInstallations(ctx context.Context) ([]*github.Installation, error)
	MintInstallationToken(ctx context.Context, installationID int64, repositories []string) (*token.Token, error)
	RepositoryCloneURL(ctx context.Context, ts oauth2.TokenSource, ref Reference) (string, error)
}

// Ensure Client implements AppClient and token.Minter
var (
	_ AppClient    = (*Client)(nil)
	_ token.Minter = (*Client)(nil)
)
