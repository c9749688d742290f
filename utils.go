package stowfs

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultObjectPrefix is prepended to file ids to build object keys.
const DefaultObjectPrefix = "urn:oid:"

// URNFunc maps a cache id to a backend object key.
type URNFunc func(id int64) string

// PrefixURN returns a URNFunc that appends the decimal id to prefix.
func PrefixURN(prefix string) URNFunc {
	return func(id int64) string {
		return prefix + strconv.FormatInt(id, 10)
	}
}

// NormalizePath turns a caller path into the form stored in the cache:
// no leading or trailing slash, no empty segments, and "" for the root.
//
// It rejects paths that are not valid UTF-8, contain NUL bytes, or
// contain "." or ".." segments after normalization.
func NormalizePath(p string) (string, error) {
	if !utf8.ValidString(p) {
		return "", fmt.Errorf("normalize %q: %w", p, ErrInvalidPath)
	}
	if strings.IndexByte(p, 0) >= 0 {
		return "", fmt.Errorf("normalize %q: %w", p, ErrInvalidPath)
	}

	p = strings.Trim(p, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}

	if p == "" || p == "." {
		return "", nil
	}

	for seg := range strings.SplitSeq(p, "/") {
		if seg == "." || seg == ".." {
			return "", fmt.Errorf("normalize %q: %w", p, ErrInvalidPath)
		}
	}

	return p, nil
}

// ParentPath returns the normalized parent of a normalized path. The parent
// of a top level entry, and of the root, is the root.
func ParentPath(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// BaseName returns the last segment of a normalized path.
func BaseName(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

// IsWithin reports whether p equals dir or lies below it.
func IsWithin(p, dir string) bool {
	if dir == "" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
