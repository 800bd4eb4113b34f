// Package pathsec decides whether an agent may touch a file.
//
// Paths are normalized to a base-relative, forward-slash form before matching.
// A fixed list of sensitive-file patterns is checked first and always denies,
// whatever the caller's allow patterns say; only then are the allow patterns
// consulted. Patterns use the glob dialect implemented by Match.
package pathsec

import (
	"path"
	"path/filepath"
	"strings"
)

// Decision is the result of an access check.
type Decision struct {
	Allowed bool
	Path    string
	Reason  string
}

// Denial reasons.
const (
	ReasonSensitive = "sensitive file"
	ReasonEscapes   = "path escapes base directory"
	ReasonNoMatch   = "no matching allow pattern"
)

// sensitivePatterns cover credential, key and secret file shapes. The leading
// "**/" also matches at the root.
var sensitivePatterns = []string{
	"**/.env*",
	"**/*.key",
	"**/*.pem",
	"**/*.p12",
	"**/*.pfx",
	"**/*.keystore",
	"**/*.jks",
	"**/*.kdbx",
	"**/secrets/**",
	"**/.secrets/**",
	"**/.git/credentials",
	"**/.git-credentials",
	"**/.netrc",
	"**/.npmrc",
	"**/.pypirc",
	"**/.aws/credentials",
	"**/.docker/config.json",
	"**/.ssh/id_*",
	"**/id_rsa",
	"**/id_dsa",
	"**/id_ecdsa",
	"**/id_ed25519",
	"**/credentials.json",
	"**/service-account*.json",
	"**/*.gpg",
}

// SensitivePatterns returns a copy of the deny list.
func SensitivePatterns() []string {
	out := make([]string, len(sensitivePatterns))
	copy(out, sensitivePatterns)
	return out
}

// Normalize converts p to a basePath-relative, slash-separated path with ".."
// segments resolved. ok is false when the result escapes basePath.
func Normalize(p, basePath string) (string, bool) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	base := strings.ReplaceAll(strings.TrimSpace(basePath), "\\", "/")

	if path.IsAbs(p) {
		if base == "" {
			return strings.TrimPrefix(path.Clean(p), "/"), true
		}
		rel, err := filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(p))
		if err != nil {
			return "", false
		}
		p = filepath.ToSlash(rel)
	}

	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	if cleaned == "." {
		cleaned = ""
	}
	return cleaned, true
}

// IsSensitive reports whether rel matches the deny list and returns the
// matching pattern.
func IsSensitive(rel string) (string, bool) {
	for _, pattern := range sensitivePatterns {
		if Match(pattern, rel) {
			return pattern, true
		}
	}
	return "", false
}

// CheckAccess decides whether p (absolute, or relative to basePath) may be
// read under the given allow patterns.
func CheckAccess(p, basePath string, allowPatterns []string) Decision {
	rel, ok := Normalize(p, basePath)
	if !ok {
		return Decision{Path: p, Reason: ReasonEscapes}
	}
	if pattern, hit := IsSensitive(rel); hit {
		return Decision{Path: rel, Reason: ReasonSensitive + " (matches " + pattern + ")"}
	}
	if !MatchAny(allowPatterns, rel) {
		return Decision{Path: rel, Reason: ReasonNoMatch}
	}
	return Decision{Allowed: true, Path: rel}
}
