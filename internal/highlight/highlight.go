// Package highlight colours code blocks of a rendered preview in place.
//
// Fences goldmark-highlighting already handled at parse time carry the
// chroma class and are left alone. The rest take their language from a
// language-X class, or from go-enry when the fence has none.
package highlight

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/go-enry/go-enry/v2"
)

// DefaultStyle matches the parse-time highlighter.
const DefaultStyle = "github-dark"

// candidates bounds the classifier to languages people paste into notes.
var candidates = []string{
	"Go", "Python", "Shell", "JavaScript", "TypeScript",
	"Ruby", "Rust", "Java", "C", "C++", "SQL", "JSON",
	"YAML", "HTML", "CSS", "Dockerfile",
}

// Highlighter formats code elements with chroma.
type Highlighter struct {
	style     *chroma.Style
	formatter *html.Formatter
	skip      map[string]struct{}
	logger    *slog.Logger
}

// New returns a Highlighter for the named chroma style. Languages in skip
// are never touched.
func New(styleName string, logger *slog.Logger, skip ...string) (*Highlighter, error) {
	style, err := lookupStyle(styleName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Highlighter{
		style: style,
		formatter: html.New(
			html.WithClasses(true),
			html.PreventSurroundingPre(true),
		),
		skip:   make(map[string]struct{}, len(skip)),
		logger: logger,
	}
	for _, lang := range skip {
		h.skip[strings.ToLower(lang)] = struct{}{}
	}
	return h, nil
}

// Apply highlights every pre > code below sel and returns how many blocks
// it changed.
func (h *Highlighter) Apply(sel *goquery.Selection) int {
	count := 0
	sel.Find("pre > code").Each(func(_ int, code *goquery.Selection) {
		pre := code.Parent()
		if pre.HasClass("chroma") {
			return
		}
		lang := Language(code)
		if _, skipped := h.skip[lang]; skipped {
			return
		}
		source := code.Text()
		lexer := h.lexer(lang, source)
		if lexer == nil {
			return
		}

		it, err := chroma.Coalesce(lexer).Tokenise(nil, source)
		if err != nil {
			h.logger.Debug("tokenise code block", slog.String("lang", lang), slog.Any("err", err))
			return
		}
		var buf bytes.Buffer
		if err := h.formatter.Format(&buf, h.style, it); err != nil {
			h.logger.Debug("format code block", slog.String("lang", lang), slog.Any("err", err))
			return
		}
		code.SetHtml(buf.String())
		code.SetAttr("data-lang", strings.ToLower(lexer.Config().Name))
		pre.AddClass("chroma")
		count++
	})
	return count
}

func (h *Highlighter) lexer(lang, source string) chroma.Lexer {
	if lang != "" {
		if l := lexers.Get(lang); l != nil {
			return l
		}
	}
	if guessed := Detect([]byte(source)); guessed != "" {
		if l := lexers.Get(guessed); l != nil {
			return l
		}
	}
	return lexers.Analyse(source)
}

// WriteCSS writes the stylesheet for the highlighter's style.
func (h *Highlighter) WriteCSS(w io.Writer) error {
	return h.formatter.WriteCSS(w, h.style)
}

// Language returns the lowercase language named by a language-X or
// lang-X class on code, or "".
func Language(code *goquery.Selection) string {
	for _, class := range strings.Fields(code.AttrOr("class", "")) {
		for _, prefix := range []string{"language-", "lang-"} {
			if name, ok := strings.CutPrefix(class, prefix); ok && name != "" {
				return strings.ToLower(name)
			}
		}
	}
	return ""
}

// Detect guesses the language of an unlabelled snippet. It returns "" when
// go-enry is not confident.
func Detect(content []byte) string {
	if len(bytes.TrimSpace(content)) == 0 {
		return ""
	}
	if lang, safe := enry.GetLanguageByShebang(content); safe {
		return strings.ToLower(lang)
	}
	if lang, safe := enry.GetLanguageByClassifier(content, candidates); safe && lang != "" {
		return strings.ToLower(lang)
	}
	return ""
}

// WriteCSS writes the chroma stylesheet of the named style.
func WriteCSS(w io.Writer, styleName string) error {
	style, err := lookupStyle(styleName)
	if err != nil {
		return err
	}
	return html.New(html.WithClasses(true), html.ClassPrefix("")).WriteCSS(w, style)
}

func lookupStyle(name string) (*chroma.Style, error) {
	if name == "" {
		name = DefaultStyle
	}
	style, ok := styles.Registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown highlight style %q", name)
	}
	return style, nil
}
