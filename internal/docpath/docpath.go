// Package docpath normalises and resolves document paths inside an opened folder.
//
// Every key of the navigator's file cache, every path handed to the
// navigator and every media path goes through Normalize, so that two
// spellings of the same file always compare equal.
package docpath

import (
	"path"
	"strings"
)

// Normalize returns p as a forward-slash path without leading or trailing
// slashes, slash runs or "." segments. ".." segments are kept; use Resolve
// to apply them.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}

// Resolve resolves target against the document at current. A target
// starting with "/" is taken from the folder root. ".." never climbs above
// the root: extra segments are dropped instead.
func Resolve(current, target string) string {
	var base []string
	if !strings.HasPrefix(target, "/") {
		base = segments(Dir(current))
	}
	for _, seg := range segments(target) {
		switch seg {
		case ".":
		case "..":
			if len(base) > 0 {
				base = base[:len(base)-1]
			}
		default:
			base = append(base, seg)
		}
	}
	return strings.Join(base, "/")
}

// Dir returns the directory part of a normalised path, "" at the root.
func Dir(p string) string {
	p = Normalize(p)
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Base returns the final element of p.
func Base(p string) string {
	p = Normalize(p)
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// IsMarkdown reports whether a file name carries a markdown extension.
func IsMarkdown(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

// IsMarkdownHref reports whether a link target points at a .md file,
// ignoring any query string or fragment.
func IsMarkdownHref(href string) bool {
	p, _ := SplitFragment(href)
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return strings.HasSuffix(strings.ToLower(p), ".md")
}

// SplitFragment splits href at the first "#".
func SplitFragment(href string) (p, fragment string) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i], href[i+1:]
	}
	return href, ""
}

func segments(p string) []string {
	p = strings.ReplaceAll(p, "\\", "/")
	raw := strings.Split(p, "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
