package github

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-github/v74/github"

	"github.com/themecloud/github-app-clone/pkg/apperror"
	"github.com/themecloud/github-app-clone/pkg/config"
)

// Selector picks the installation a run operates on
type Selector interface {
	Select(installations []*github.Installation) (*github.Installation, error)
	String() string
}

// NewSelector returns the selection strategy named in configuration
func NewSelector(cfg *config.GitHubConfig) (Selector, error) {
	switch cfg.InstallationSelection {
	case config.SelectByAccount, "":
		if cfg.Account == "" {
			return nil, apperror.New(apperror.KindConfiguration, "GitHub account is required for installation selection \"account\"")
		}
		return ByAccount(cfg.Account), nil
	case config.SelectFirst:
		return First(), nil
	case config.SelectByID:
		if cfg.InstallationID <= 0 {
			return nil, apperror.New(apperror.KindConfiguration, "GitHub installation ID is required for installation selection \"id\"")
		}
		return ByID(cfg.InstallationID), nil
	}
	return nil, apperror.Newf(apperror.KindConfiguration, "unknown installation selection %q", cfg.InstallationSelection)
}

// ByAccount selects the installation whose account login matches login
// case-insensitively
func ByAccount(login string) Selector {
	return accountSelector{login: login}
}

type accountSelector struct {
	login string
}

func (s accountSelector) Select(installations []*github.Installation) (*github.Installation, error) {
	for _, installation := range installations {
		if strings.EqualFold(installation.GetAccount().GetLogin(), s.login) {
			return installation, nil
		}
	}
	return nil, apperror.Newf(apperror.KindInstallationNotFound,
		"no installation found for account %q (available: %s)", s.login, accountLogins(installations))
}

func (s accountSelector) String() string {
	return fmt.Sprintf("account=%s", s.login)
}

// First selects the first installation, meant for Apps with a single
// installation
func First() Selector {
	return firstSelector{}
}

type firstSelector struct{}

func (firstSelector) Select(installations []*github.Installation) (*github.Installation, error) {
	if len(installations) == 0 {
		return nil, apperror.New(apperror.KindInstallationNotFound, "the GitHub App has no installations")
	}
	return installations[0], nil
}

func (firstSelector) String() string {
	return "first"
}

// ByID selects the installation with the given ID
func ByID(id int64) Selector {
	return idSelector{id: id}
}

type idSelector struct {
	id int64
}

func (s idSelector) Select(installations []*github.Installation) (*github.Installation, error) {
	for _, installation := range installations {
		if installation.GetID() == s.id {
			return installation, nil
		}
	}
	return nil, apperror.Newf(apperror.KindInstallationNotFound, "no installation with ID %d", s.id)
}

func (s idSelector) String() string {
	return fmt.Sprintf("id=%d", s.id)
}

func accountLogins(installations []*github.Installation) string {
	if len(installations) == 0 {
		return "none"
	}
	logins := make([]string, 0, len(installations))
	for _, installation := range installations {
		logins = append(logins, installation.GetAccount().GetLogin())
	}
	sort.Strings(logins)
	return strings.Join(logins, ", ")
}
