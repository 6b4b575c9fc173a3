package clone

import (
	"net/url"
	"strings"

	"github.com/themecloud/github-app-clone/pkg/apperror"
)

// TokenUser is the username GitHub expects alongside an installation token
const TokenUser = "x-access-token"

const redacted = "[REDACTED]"

// AuthenticatedURL embeds an installation token into an https clone URL
func AuthenticatedURL(cloneURL, token string) (string, error) {
	u, err := url.Parse(cloneURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", apperror.Newf(apperror.KindGitOperation, "invalid clone URL %q", Redact(cloneURL))
	}

	if !strings.HasSuffix(u.Path, ".git") {
		u.Path = strings.TrimSuffix(u.Path, "/") + ".git"
	}
	u.RawPath = ""
	u.User = url.UserPassword(TokenUser, token)

	return u.String(), nil
}

// Redact masks the password of a remote URL so it can be logged, leaving
// filesystem paths unchanged
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}

// PlainURL strips any user info from a remote URL
func PlainURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.User = nil
	return u.String()
}

// password returns the secret carried in a remote URL, if any
func password(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return ""
	}
	p, _ := u.User.Password()
	return p
}

// scrub removes every occurrence of secret, raw or URL-escaped, from s
func scrub(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, secret, redacted)
	if escaped := url.QueryEscape(secret); escaped != secret {
		s = strings.ReplaceAll(s, escaped, redacted)
	}
	return s
}
