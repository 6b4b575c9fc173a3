package github

import (
	"crypto/rsa"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/themecloud/github-app-clone/pkg/apperror"
	"github.com/themecloud/github-app-clone/pkg/config"
)

// Credential is the GitHub App identity used to sign App JWTs
type Credential struct {
	AppID      string
	PrivateKey *rsa.PrivateKey
}

// LoadCredential builds the App credential from configuration, preferring an
// inline private key over a key file
func LoadCredential(cfg *config.GitHubConfig) (*Credential, error) {
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, apperror.New(apperror.KindConfiguration, "GitHub App ID is required")
	}

	var (
		privateKey *rsa.PrivateKey
		err        error
	)
	switch {
	case cfg.PrivateKey != "":
		privateKey, err = parsePrivateKey([]byte(normalizePEM(cfg.PrivateKey)))
	case cfg.PrivateKeyPath != "":
		privateKey, err = loadPrivateKey(cfg.PrivateKeyPath)
	default:
		return nil, apperror.New(apperror.KindConfiguration, "GitHub private key or private key path is required")
	}
	if err != nil {
		return nil, err
	}

	return &Credential{AppID: appID, PrivateKey: privateKey}, nil
}

// loadPrivateKey loads the RSA private key from file
func loadPrivateKey(keyPath string) (*rsa.PrivateKey, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfiguration, err, "failed to read private key file")
	}

	return parsePrivateKey(keyData)
}

func parsePrivateKey(keyData []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfiguration, err, "failed to parse private key")
	}

	return key, nil
}

// normalizePEM expands literal \n sequences, as found in keys squeezed into a
// single-line environment variable
func normalizePEM(key string) string {
	if strings.Contains(key, "\n") {
		return key
	}
	return strings.ReplaceAll(key, `\n`, "\n")
}
