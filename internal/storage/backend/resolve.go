package backend

import (
	"path"
	"strings"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// CleanName normalizes a slash-separated object name and rejects names
// that are empty, absolute or climb above the root.
func CleanName(name string) (string, error) {
	if name == "" {
		return "", domain.ErrConfiguration.WithDetails("empty object name")
	}
	n := strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(n) {
		return "", domain.ErrConfiguration.Detailf("%q: absolute path outside snapshot root", name)
	}
	clean := path.Clean(n)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", domain.ErrConfiguration.Detailf("%q: escapes snapshot root", name)
	}
	return clean, nil
}

// cleanPrefix is CleanName for List prefixes, where empty means everything
// and a trailing slash is significant.
func cleanPrefix(prefix string) (string, error) {
	if prefix == "" {
		return "", nil
	}
	clean, err := CleanName(prefix)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(prefix, "/") {
		clean += "/"
	}
	return clean, nil
}
