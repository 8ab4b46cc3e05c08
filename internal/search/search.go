// Package search finds text across the markdown files of an opened folder.
package search

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/euforicio/mdview/internal/workspace"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Options controls which files are searched and how lines match.
type Options struct {
	// ExcludeGlobs are matched against folder-relative paths.
	ExcludeGlobs []string
	Walk         workspace.WalkOptions
	// Context is the number of lines kept around each match.
	Context int
	// Limit caps the number of results. Zero means no cap.
	Limit         int
	CaseSensitive bool
	Workers       int
}

// Result is one matching line.
type Result struct {
	Path     string        `json:"path"`
	Match    string        `json:"match"`
	LineText string        `json:"lineText"`
	Before   []LineSnippet `json:"before,omitempty"`
	After    []LineSnippet `json:"after,omitempty"`
	Line     int           `json:"line"`
	Column   int           `json:"column"`
}

// LineSnippet is a context line around a match.
type LineSnippet struct {
	Text string `json:"text"`
	Line int    `json:"line"`
}

// Search scans every markdown file under root for query. Matching is
// smart-case unless opts.CaseSensitive is set: a query with an upper-case
// letter is matched exactly. Results are ordered by path and line.
func Search(ctx context.Context, root workspace.DirHandle, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	m := newMatcher(query, opts.CaseSensitive || hasUpper(query))

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	walkErr := workspace.WalkMarkdown(gctx, root, opts.Walk, func(fh workspace.FileHandle) error {
		if excluded(fh.Path(), opts.ExcludeGlobs) {
			return nil
		}
		g.Go(func() error {
			text, err := fh.ReadText(gctx)
			if err != nil {
				if opts.Walk.OnError != nil {
					opts.Walk.OnError(fh.Path(), err)
				}
				return nil
			}
			found := m.scan(fh.Path(), text, opts.Context)
			if len(found) == 0 {
				return nil
			}
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, fmt.Errorf("search %q: %w", query, walkErr)
	}

	slices.SortFunc(results, func(a, b Result) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return a.Line - b.Line
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

type matcher struct {
	query string
	exact bool
}

func newMatcher(query string, exact bool) matcher {
	if !exact {
		query = strings.ToLower(query)
	}
	return matcher{query: query, exact: exact}
}

func (m matcher) index(line string) int {
	if m.exact {
		return strings.Index(line, m.query)
	}
	return strings.Index(strings.ToLower(line), m.query)
}

func (m matcher) scan(p, text string, context int) []Result {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out []Result
	for i, line := range lines {
		col := m.index(line)
		if col < 0 {
			continue
		}
		res := Result{
			Path:     p,
			Line:     i + 1,
			Column:   col + 1,
			LineText: line,
		}
		if col+len(m.query) <= len(line) {
			res.Match = line[col : col+len(m.query)]
		}
		for j := max(0, i-context); j < i; j++ {
			res.Before = append(res.Before, LineSnippet{Line: j + 1, Text: lines[j]})
		}
		for j := i + 1; j <= min(len(lines)-1, i+context); j++ {
			res.After = append(res.After, LineSnippet{Line: j + 1, Text: lines[j]})
		}
		out = append(out, res)
	}
	return out
}

func excluded(p string, globs []string) bool {
	for _, glob := range globs {
		glob = strings.TrimPrefix(strings.TrimSpace(glob), "!")
		if glob == "" {
			continue
		}
		if ok, _ := path.Match(glob, p); ok {
			return true
		}
		if ok, _ := path.Match(glob, path.Base(p)); ok {
			return true
		}
	}
	return false
}

func hasUpper(s string) bool {
	return strings.IndexFunc(s, unicode.IsUpper) >= 0
}
