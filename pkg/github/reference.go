package github

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/themecloud/github-app-clone/pkg/apperror"
)

const segment = `[A-Za-z0-9_.-]+`

var (
	shorthandPattern = regexp.MustCompile(`^(` + segment + `)/(` + segment + `)$`)
	scpPattern       = regexp.MustCompile(`^(?:[^@/:\s]+@)?([A-Za-z0-9.-]+):(` + segment + `)/(` + segment + `)/?$`)
	segmentPattern   = regexp.MustCompile(`^` + segment + `$`)
)

var remoteSchemes = map[string]bool{
	"https": true,
	"http":  true,
	"ssh":   true,
	"git":   true,
}

// Reference identifies a repository, Host being empty for the owner/name form
type Reference struct {
	Host  string
	Owner string
	Name  string
}

func (r Reference) String() string {
	return r.Owner + "/" + r.Name
}

// ParseReference accepts owner/name, scp-style git@host:owner/name.git and
// URL-style https://host/owner/name.git references
func ParseReference(raw string) (Reference, error) {
	s := strings.TrimSpace(raw)

	var host, owner, name string
	switch {
	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil || !remoteSchemes[u.Scheme] || u.Hostname() == "" {
			return Reference{}, invalidReference(raw)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) != 2 || !segmentPattern.MatchString(parts[0]) || !segmentPattern.MatchString(parts[1]) {
			return Reference{}, invalidReference(raw)
		}
		host, owner, name = u.Hostname(), parts[0], parts[1]
	case scpPattern.MatchString(s):
		m := scpPattern.FindStringSubmatch(s)
		host, owner, name = m[1], m[2], m[3]
	case shorthandPattern.MatchString(s):
		m := shorthandPattern.FindStringSubmatch(s)
		owner, name = m[1], m[2]
	default:
		return Reference{}, invalidReference(raw)
	}

	name = strings.TrimSuffix(name, ".git")
	if !validSegment(owner) || !validSegment(name) {
		return Reference{}, invalidReference(raw)
	}

	return Reference{Host: host, Owner: owner, Name: name}, nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".."
}

func invalidReference(raw string) error {
	return apperror.Newf(apperror.KindInvalidRepositoryReference,
		"invalid repository reference %q: expected owner/name or a git remote URL", raw)
}
