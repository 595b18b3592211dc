// Package security validates untrusted path strings before they reach the
// filesystem or an asset URL. Names come from list.json files and from
// alignment exports, both of which are operator-editable.
package security

import (
	"fmt"
	"path"
	"strings"
)

// ValidateAssetName checks that name, taken from a directory listing, is a
// plain file name: non-empty, no separators, no parent references and no
// control characters.
func ValidateAssetName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid asset name %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("asset name %q must not contain path separators", name)
	}
	if hasControl(name) {
		return fmt.Errorf("asset name %q contains control characters", name)
	}
	return nil
}

// ValidateRelativePath checks that p is a slash-separated relative path
// that stays inside its root after cleaning. It returns the cleaned path.
func ValidateRelativePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(p, `\`) {
		return "", fmt.Errorf("path %q must use forward slashes", p)
	}
	if hasControl(p) {
		return "", fmt.Errorf("path %q contains control characters", p)
	}
	if path.IsAbs(p) {
		return "", fmt.Errorf("path %q must be relative", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path traversal detected: %s", p)
	}
	return clean, nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
