package transform

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/euforicio/mdview/internal/docpath"
)

// MediaPrefix is the route files of the opened folder are served under.
const MediaPrefix = "/media/"

// DocPathKey carries the path of the document being rendered, relative
// to the opened folder.
var DocPathKey = parser.NewContextKey()

// MediaTransformer points relative image sources, and relative links to
// non-markdown files, at MediaPrefix. Markdown links are left alone for
// the navigator.
type MediaTransformer struct{}

// Transform implements parser.ASTTransformer.
func (t *MediaTransformer) Transform(node *ast.Document, _ text.Reader, pc parser.Context) {
	currentPath := ""
	if v, ok := pc.Get(DocPathKey).(string); ok {
		currentPath = v
	}

	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch typed := n.(type) {
		case *ast.Image:
			if rewritten, ok := mediaDestination(string(typed.Destination), currentPath); ok {
				typed.Destination = []byte(rewritten)
			}
		case *ast.Link:
			dest := string(typed.Destination)
			if docpath.IsMarkdownHref(dest) {
				return ast.WalkContinue, nil
			}
			if rewritten, ok := mediaDestination(dest, currentPath); ok {
				typed.Destination = []byte(rewritten)
			}
		}

		return ast.WalkContinue, nil
	})
}

func mediaDestination(dest, currentPath string) (string, bool) {
	if dest == "" || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "//") ||
		strings.HasPrefix(dest, MediaPrefix) || strings.HasPrefix(dest, "/static/") || hasScheme(dest) {
		return "", false
	}
	resolved := docpath.Resolve(currentPath, dest)
	if resolved == "" {
		return "", false
	}
	return MediaPrefix + resolved, true
}

func hasScheme(dest string) bool {
	i := strings.IndexByte(dest, ':')
	if i <= 0 {
		return false
	}
	slash := strings.IndexAny(dest, "/?#")
	return slash < 0 || i < slash
}
