package watcher

import (
	"path/filepath"
	"strings"
)

// defaultIgnoredSuffixes are editor and transfer artifacts that never
// describe a meaningful change to a project.
var defaultIgnoredSuffixes = []string{"~", ".swp", ".swx", ".swo", ".tmp", ".bak", ".part"}

// meaningfulDotfiles are hidden names that compose itself reads.
var meaningfulDotfiles = map[string]bool{
	".env": true,
}

// Filter decides which paths inside a service directory count as changes.
//
// A path is ignored when any of its components is hidden (starts with "."),
// except the dotfiles compose reads, or when its base name is an editor
// artifact: a configured suffix, an emacs autosave (#name#) or vim's 4913
// write probe.
type Filter struct {
	suffixes []string
}

// NewFilter builds a filter with the default suffixes plus extra.
func NewFilter(extra []string) *Filter {
	suffixes := make([]string, 0, len(defaultIgnoredSuffixes)+len(extra))
	suffixes = append(suffixes, defaultIgnoredSuffixes...)
	for _, s := range extra {
		if s = strings.TrimSpace(s); s != "" {
			suffixes = append(suffixes, s)
		}
	}
	return &Filter{suffixes: suffixes}
}

// Ignored reports whether rel, a path relative to the service directory,
// should be dropped.
func (f *Filter) Ignored(rel string) bool {
	rel = filepath.Clean(rel)
	parts := strings.Split(rel, string(filepath.Separator))
	for _, p := range parts {
		if strings.HasPrefix(p, ".") && p != "." && !meaningfulDotfiles[p] {
			return true
		}
	}

	base := parts[len(parts)-1]
	if base == "4913" {
		return true
	}
	if len(base) > 1 && strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}
	for _, s := range f.suffixes {
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	return false
}

// IsServiceName reports whether a top-level directory name can be a service.
func IsServiceName(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".")
}
