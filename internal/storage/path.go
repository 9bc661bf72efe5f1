package storage

import (
	"strconv"
	"strings"
)

// PathKeys splits a slash-separated path into its segments. The empty
// path (the root) has no segments.
func PathKeys(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ChildPath joins a parent path and a child key.
func ChildPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "/" + key
}

// ParentPath returns the parent of path, or "" for top-level paths and
// the root itself.
func ParentPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// IsDescendant reports whether path lies strictly under ancestor.
// Every path is a descendant of the root.
func IsDescendant(path, ancestor string) bool {
	if path == ancestor {
		return false
	}
	if ancestor == "" {
		return true
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// IsOnTrailOf reports whether path equals trail or is an ancestor of it.
func IsOnTrailOf(path, trail string) bool {
	return path == trail || IsDescendant(trail, path)
}

// MatchWildcardPath matches a concrete path against a subscription path
// that may contain "*" or "$name" segments. On success it returns the
// values captured by variable segments keyed by their name ("*" captures
// positionally as "wildcard0", "wildcard1", ...).
func MatchWildcardPath(pattern, path string) (map[string]string, bool) {
	pk := PathKeys(pattern)
	ck := PathKeys(path)
	if len(pk) != len(ck) {
		return nil, false
	}
	vars := map[string]string{}
	wildcards := 0
	for i, seg := range pk {
		switch {
		case seg == "*":
			vars[wildcardName(wildcards)] = ck[i]
			wildcards++
		case strings.HasPrefix(seg, "$"):
			vars[seg[1:]] = ck[i]
		case seg != ck[i]:
			return nil, false
		}
	}
	return vars, true
}

func wildcardName(i int) string {
	return "wildcard" + strconv.Itoa(i)
}

// HasWildcards reports whether a path contains "*" or "$var" segments.
func HasWildcards(path string) bool {
	for _, seg := range PathKeys(path) {
		if seg == "*" || strings.HasPrefix(seg, "$") {
			return true
		}
	}
	return false
}
