package preview

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var (
	svgElements = []string{
		"svg", "g", "path", "circle", "ellipse", "rect", "line", "polyline",
		"polygon", "text", "tspan", "defs", "use", "title", "lineargradient", "stop",
	}
	svgAttrs = []string{
		"xmlns", "viewbox", "width", "height", "fill", "stroke", "stroke-width",
		"stroke-linecap", "stroke-linejoin", "d", "cx", "cy", "r", "rx", "ry",
		"x", "y", "x1", "y1", "x2", "y2", "points", "transform", "opacity",
		"preserveaspectratio", "offset", "stop-color",
	}
	mathElements = []string{
		"math", "semantics", "annotation", "mrow", "mi", "mo", "mn", "ms",
		"mtext", "mspace", "msup", "msub", "msubsup", "mfrac", "msqrt", "mroot",
		"mover", "munder", "munderover", "mtable", "mtr", "mtd", "mstyle",
		"mpadded", "mphantom", "menclose",
	}
	mathAttrs = []string{
		"xmlns", "display", "encoding", "mathvariant", "stretchy", "fence",
		"separator", "lspace", "rspace", "accent", "accentunder", "width",
		"height", "depth", "columnalign", "rowspacing", "columnspacing",
		"scriptlevel", "displaystyle", "linethickness", "notation", "minsize", "maxsize",
	}
)

// NewPolicy returns the sanitiser for rendered markdown. It starts from
// bluemonday's UGC policy and admits the markup the grammar, KaTeX and the
// diagram placeholders emit.
func NewPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)
	p.AllowStyling()
	p.AllowDataAttributes()
	p.AllowAttrs("style", "aria-hidden", "aria-label", "role", "tabindex", "hidden").Globally()
	p.AllowAttrs("rel").Matching(regexp.MustCompile(`^(noopener|noreferrer|nofollow|\s)+$`)).OnElements("a")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").OnElements("input")

	p.AllowElements(svgElements...)
	p.AllowAttrs(svgAttrs...).OnElements(svgElements...)
	p.AllowElements(mathElements...)
	p.AllowAttrs(mathAttrs...).OnElements(mathElements...)
	return p
}
