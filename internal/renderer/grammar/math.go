package grammar

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/mdview/internal/katex"
)

var (
	KindMathBlock       = ast.NewNodeKind("MathBlock")
	KindMathEnvironment = ast.NewNodeKind("MathEnvironment")
	KindMathInline      = ast.NewNodeKind("MathInline")
)

// KaTeX has no eqnarray; align renders the same layout.
var legacyEnvironments = map[string]string{
	"eqnarray":  "align",
	"eqnarray*": "align*",
}

var envOpener = regexp.MustCompile(`^\\begin\{([A-Za-z]+\*?)\}`)

// closerScan finds where a block formula ends. Environments track nesting
// of the same name so that \begin{X}..\begin{X}..\end{X}..\end{X} closes
// on the outer \end.
type closerScan struct {
	closer string
	env    string
	depth  int
}

// feed returns the offset where the formula content stops and the offset
// just past the closer, or -1, -1 when line does not close the formula.
func (s *closerScan) feed(line []byte) (contentEnd, closeEnd int) {
	if s.env == "" {
		i := bytes.Index(line, []byte(s.closer))
		if i < 0 {
			return -1, -1
		}
		return i, i + len(s.closer)
	}
	begin := []byte(`\begin{` + s.env + `}`)
	end := []byte(`\end{` + s.env + `}`)
	pos := 0
	for pos < len(line) {
		bi := bytes.Index(line[pos:], begin)
		ei := bytes.Index(line[pos:], end)
		if bi >= 0 && (ei < 0 || bi < ei) {
			s.depth++
			pos += bi + len(begin)
			continue
		}
		if ei < 0 {
			break
		}
		s.depth--
		pos += ei + len(end)
		if s.depth <= 0 {
			return pos, pos
		}
	}
	return -1, -1
}

type blockScan struct {
	scan      *closerScan
	remaining int
}

func (b *blockScan) blockState() *blockScan { return b }

type scannedBlock interface {
	ast.Node
	blockState() *blockScan
}

// MathBlock is a display formula between $$ and $$ or \[ and \].
type MathBlock struct {
	ast.BaseBlock
	blockScan
	Opener       string
	Closer       string
	Unterminated bool
}

func (n *MathBlock) Kind() ast.NodeKind { return KindMathBlock }

func (n *MathBlock) IsRaw() bool { return true }

func (n *MathBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Opener":       n.Opener,
		"Unterminated": fmt.Sprint(n.Unterminated),
	}, nil)
}

// MathEnvironment is a \begin{X} ... \end{X} block rendered in display mode.
type MathEnvironment struct {
	ast.BaseBlock
	blockScan
	Name         string
	Unterminated bool
}

func (n *MathEnvironment) Kind() ast.NodeKind { return KindMathEnvironment }

func (n *MathEnvironment) IsRaw() bool { return true }

func (n *MathEnvironment) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Name": n.Name}, nil)
}

// MathInline is a formula inside a paragraph. Display is set for the $$
// and \[ forms.
type MathInline struct {
	ast.BaseInline
	Display bool
}

func (n *MathInline) Kind() ast.NodeKind { return KindMathInline }

func (n *MathInline) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Display": fmt.Sprint(n.Display)}, nil)
}

type mathBlockParser struct{}

func (b *mathBlockParser) Trigger() []byte {
	return []byte{'$', '\\'}
}

func (b *mathBlockParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || pos >= len(line) {
		return nil, parser.NoChildren
	}
	rest := line[pos:]

	var (
		node         scannedBlock
		contentStart int
		closer       string
	)
	switch {
	case bytes.HasPrefix(rest, []byte("$$")):
		closer = "$$"
		node = &MathBlock{Opener: "$$", Closer: closer}
		contentStart = pos + 2
	case bytes.HasPrefix(rest, []byte(`\[`)):
		closer = `\]`
		node = &MathBlock{Opener: `\[`, Closer: closer}
		contentStart = pos + 2
	default:
		m := envOpener.FindSubmatch(rest)
		if m == nil {
			return nil, parser.NoChildren
		}
		node = &MathEnvironment{Name: string(m[1])}
		contentStart = pos
	}

	st := node.blockState()
	st.scan = &closerScan{closer: closer}
	if env, ok := node.(*MathEnvironment); ok {
		st.scan.env = env.Name
	}

	tail := line[contentStart:]
	if ce, cl := st.scan.feed(tail); ce >= 0 {
		if !util.IsBlank(tail[cl:]) {
			return nil, parser.NoChildren
		}
		node.Lines().Append(text.NewSegment(segment.Start+contentStart, segment.Start+contentStart+ce))
		return node, parser.NoChildren
	}

	lines, closed := lookahead(reader, *st.scan)
	switch {
	case closed:
		st.remaining = lines
	case lines < 0:
		// Closer found with trailing text: leave it to the inline parser.
		return nil, parser.NoChildren
	default:
		markUnterminated(node)
		opener := text.NewSegment(segment.Start+pos, segment.Stop)
		node.Lines().Append(opener.TrimRightSpace(reader.Source()))
		return node, parser.NoChildren
	}

	if !util.IsBlank(tail) {
		node.Lines().Append(text.NewSegment(segment.Start+contentStart, segment.Stop))
	}
	return node, parser.NoChildren
}

// lookahead counts the lines after the current one up to and including
// the one that closes the formula. It returns -1 when the closer is
// followed by other text and 0, false when the input ends first.
func lookahead(reader text.Reader, scan closerScan) (int, bool) {
	l, pos := reader.Position()
	defer reader.SetPosition(l, pos)

	for n := 1; ; n++ {
		reader.AdvanceLine()
		line, _ := reader.PeekLine()
		if line == nil {
			return 0, false
		}
		if _, cl := scan.feed(line); cl >= 0 {
			if util.IsBlank(line[cl:]) {
				return n, true
			}
			return -1, false
		}
	}
}

func markUnterminated(node ast.Node) {
	switch n := node.(type) {
	case *MathBlock:
		n.Unterminated = true
	case *MathEnvironment:
		n.Unterminated = true
	}
}

func (b *mathBlockParser) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	st := node.(scannedBlock).blockState()
	if st.remaining == 0 {
		return parser.Close
	}
	line, segment := reader.PeekLine()
	if line == nil {
		return parser.Close
	}
	st.remaining--
	ce, _ := st.scan.feed(line)
	if st.remaining > 0 {
		node.Lines().Append(segment)
		return parser.Continue | parser.NoChildren
	}

	if ce < 0 {
		ce = len(line)
	}
	node.Lines().Append(text.NewSegment(segment.Start, segment.Start+ce))
	newline := 1
	if line[len(line)-1] != '\n' {
		newline = 0
	}
	reader.Advance(segment.Stop - segment.Start - newline + segment.Padding)
	return parser.Close
}

func (b *mathBlockParser) Close(node ast.Node, reader text.Reader, pc parser.Context) {
	node.(scannedBlock).blockState().scan = nil
}

func (b *mathBlockParser) CanInterruptParagraph() bool {
	return true
}

func (b *mathBlockParser) CanAcceptIndentedLine() bool {
	return false
}

type mathInlineParser struct{}

func (p *mathInlineParser) Trigger() []byte {
	return []byte{'$', '\\'}
}

type inlineDelimiter struct {
	open      string
	close     string
	display   bool
	multiline bool
	// tight delimiters need non-space text right inside both ends, and the
	// closer must not be followed by a digit, so "$5 and $10" stays prose.
	tight bool
}

var inlineDelimiters = []inlineDelimiter{
	{open: "$$", close: "$$", display: true, multiline: true},
	{open: `\[`, close: `\]`, display: true, multiline: true},
	{open: `\(`, close: `\)`, multiline: true},
	{open: "$", close: "$", tight: true},
}

func (p *mathInlineParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	for _, d := range inlineDelimiters {
		if !bytes.HasPrefix(line, []byte(d.open)) {
			continue
		}
		if node := parseDelimited(block, d); node != nil {
			return node
		}
	}
	return nil
}

func parseDelimited(block text.Reader, d inlineDelimiter) ast.Node {
	if d.tight {
		line, _ := block.PeekLine()
		if len(line) <= len(d.open) || isSpace(line[len(d.open)]) {
			return nil
		}
	}
	l, pos := block.Position()
	block.Advance(len(d.open))
	node := &MathInline{Display: d.display}
	for {
		line, segment := block.PeekLine()
		if line == nil {
			break
		}
		i := indexCloser(line, d.close)
		if d.tight {
			i = indexTightCloser(line, d.close)
		}
		if !d.multiline {
			if nl := bytes.IndexByte(line, '\n'); nl >= 0 && (i < 0 || nl < i) {
				break
			}
		}
		if i >= 0 {
			if seg := segment.WithStop(segment.Start + i); !seg.IsEmpty() {
				node.AppendChild(node, ast.NewRawTextSegment(seg))
			}
			block.Advance(i + len(d.close))
			if strings.TrimSpace(inlineSource(node, block.Source())) == "" {
				break
			}
			return node
		}
		if !d.multiline {
			break
		}
		node.AppendChild(node, ast.NewRawTextSegment(segment))
		block.AdvanceLine()
	}
	block.SetPosition(l, pos)
	return nil
}

// indexCloser finds closer in line, skipping backslash-escaped dollars.
func indexCloser(line []byte, closer string) int {
	for start := 0; start < len(line); {
		i := bytes.Index(line[start:], []byte(closer))
		if i < 0 {
			return -1
		}
		i += start
		if closer[0] == '$' && i > 0 && line[i-1] == '\\' {
			start = i + 1
			continue
		}
		return i
	}
	return -1
}

// indexTightCloser is indexCloser restricted to closers with non-space
// text on their left and no digit on their right.
func indexTightCloser(line []byte, closer string) int {
	for start := 0; start < len(line); {
		i := indexCloser(line[start:], closer)
		if i < 0 {
			return -1
		}
		i += start
		end := i + len(closer)
		if i > 0 && !isSpace(line[i-1]) && (end >= len(line) || !isDigit(line[end])) {
			return i
		}
		start = i + 1
	}
	return -1
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func inlineSource(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		value := c.(*ast.Text).Segment.Value(source)
		if bytes.HasSuffix(value, []byte("\n")) {
			b.Write(value[:len(value)-1])
			if c != n.LastChild() {
				b.WriteByte(' ')
			}
			continue
		}
		b.Write(value)
	}
	return b.String()
}

func blockSource(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := range lines.Len() {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

type mathRenderer struct {
	typesetter katex.Typesetter
	logger     *slog.Logger
}

func (r *mathRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMathBlock, r.renderBlock)
	reg.Register(KindMathEnvironment, r.renderEnvironment)
	reg.Register(KindMathInline, r.renderInline)
}

func (r *mathRenderer) renderBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*MathBlock)
	if n.Unterminated {
		writeBlockError(w, "unterminated math block: missing closing "+n.Closer)
		return ast.WalkSkipChildren, nil
	}
	r.typesetBlock(w, strings.TrimSpace(blockSource(n, source)))
	return ast.WalkSkipChildren, nil
}

func (r *mathRenderer) renderEnvironment(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*MathEnvironment)
	if n.Unterminated {
		writeBlockError(w, `unterminated environment: missing \end{`+n.Name+`}`)
		return ast.WalkSkipChildren, nil
	}
	src := strings.TrimSpace(blockSource(n, source))
	if repl, ok := legacyEnvironments[n.Name]; ok {
		src = strings.ReplaceAll(src, `\begin{`+n.Name+`}`, `\begin{`+repl+`}`)
		src = strings.ReplaceAll(src, `\end{`+n.Name+`}`, `\end{`+repl+`}`)
	}
	r.typesetBlock(w, src)
	return ast.WalkSkipChildren, nil
}

func (r *mathRenderer) typesetBlock(w util.BufWriter, src string) {
	out, err := r.typesetter.Typeset(context.Background(), src, true)
	if err != nil {
		r.logger.Debug("failed to typeset block formula", slog.Any("err", err))
		writeBlockError(w, err.Error())
		return
	}
	_, _ = w.WriteString(`<div class="math-block">`)
	_, _ = w.WriteString(out)
	_, _ = w.WriteString("</div>\n")
}

func (r *mathRenderer) renderInline(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*MathInline)
	out, err := r.typesetter.Typeset(context.Background(), strings.TrimSpace(inlineSource(n, source)), n.Display)
	if err != nil {
		r.logger.Debug("failed to typeset inline formula", slog.Any("err", err))
		_, _ = w.WriteString(`<code class="math-error" style="color:red">`)
		_, _ = w.Write(util.EscapeHTML([]byte(err.Error())))
		_, _ = w.WriteString("</code>")
		return ast.WalkSkipChildren, nil
	}
	_, _ = w.WriteString(out)
	return ast.WalkSkipChildren, nil
}

func writeBlockError(w util.BufWriter, msg string) {
	_, _ = w.WriteString(`<div class="math-error" style="color:red">`)
	_, _ = w.Write(util.EscapeHTML([]byte(msg)))
	_, _ = w.WriteString("</div>\n")
}
