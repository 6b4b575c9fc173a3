package token

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"

	"github.com/themecloud/github-app-clone/pkg/apperror"
)

// DefaultRefreshBuffer is how long before expiry a cached token is replaced
const DefaultRefreshBuffer = 5 * time.Minute

// Minter creates installation tokens
type Minter interface {
	MintInstallationToken(ctx context.Context, installationID int64, repositories []string) (*Token, error)
}

// Source hands out the installation token for one installation, minting it
// on first use and again only when the cached token is about to expire
type Source struct {
	minter         Minter
	installationID int64
	repositories   []string
	logger         logr.Logger

	refreshBuffer time.Duration
	now           func() time.Time

	mu      sync.Mutex
	current *Token
}

// NewSource creates a token source for the given installation, scoping tokens
// to repositories when it is non-empty
func NewSource(minter Minter, installationID int64, repositories []string, logger logr.Logger) *Source {
	return &Source{
		minter:         minter,
		installationID: installationID,
		repositories:   repositories,
		logger:         logger,
		refreshBuffer:  DefaultRefreshBuffer,
		now:            time.Now,
	}
}

// Token returns a token valid for at least the refresh buffer
func (s *Source) Token(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.ExpiresWithin(s.now(), s.refreshBuffer) {
		return s.current, nil
	}

	tok, err := s.minter.MintInstallationToken(ctx, s.installationID, s.repositories)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.Value() == "" {
		return nil, apperror.Newf(apperror.KindAuthentication, "installation %d returned an empty token", s.installationID)
	}

	s.current = tok
	s.logger.V(1).Info("Minted installation token",
		"installationID", s.installationID,
		"expiresAt", tok.ExpiresAt())

	return tok, nil
}

// OAuth2 adapts the source to an oauth2.TokenSource bound to ctx
func (s *Source) OAuth2(ctx context.Context) oauth2.TokenSource {
	return &oauth2Source{ctx: ctx, source: s}
}

type oauth2Source struct {
	ctx    context.Context
	source *Source
}

func (o *oauth2Source) Token() (*oauth2.Token, error) {
	tok, err := o.source.Token(o.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok.Value(),
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresAt(),
	}, nil
}
