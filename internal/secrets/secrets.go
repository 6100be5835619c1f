// Package secrets resolves named credentials for the pipeline.
// Values returned here must never be logged; use Mask for diagnostics.
package secrets

import (
	"os"
	"strconv"
	"strings"
)

// Secret names read by the pipeline.
const (
	DownloadURL = "HITSS_DOWNLOAD_URL"
	Username    = "HITSS_USERNAME"
	Password    = "HITSS_PASSWORD"
)

// Provider looks up a secret by name.
type Provider interface {
	GetSecret(name string) (string, bool)
}

// EnvProvider reads secrets from environment variables, optionally prefixed.
type EnvProvider struct {
	Prefix string
}

// GetSecret implements Provider.
func (p EnvProvider) GetSecret(name string) (string, bool) {
	v, ok := os.LookupEnv(p.Prefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// MapProvider serves secrets from a fixed map.
type MapProvider map[string]string

// GetSecret implements Provider.
func (m MapProvider) GetSecret(name string) (string, bool) {
	v, ok := m[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ChainProvider returns the first hit from its providers.
type ChainProvider []Provider

// GetSecret implements Provider.
func (c ChainProvider) GetSecret(name string) (string, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if v, ok := p.GetSecret(name); ok {
			return v, true
		}
	}
	return "", false
}

// Mask returns a preview that reveals only the length of a secret.
func Mask(value string) string {
	if value == "" {
		return "<empty>"
	}
	return strings.Repeat("*", min(len(value), 8)) + "(" + strconv.Itoa(len(value)) + ")"
}

var (
	_ Provider = EnvProvider{}
	_ Provider = MapProvider{}
	_ Provider = ChainProvider{}
)
