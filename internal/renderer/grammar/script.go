package grammar

import (
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	KindSubscript   = ast.NewNodeKind("Subscript")
	KindSuperscript = ast.NewNodeKind("Superscript")
)

// Subscript is ~text~.
type Subscript struct {
	ast.BaseInline
}

func (n *Subscript) Kind() ast.NodeKind { return KindSubscript }

func (n *Subscript) Dump(source []byte, level int) { ast.DumpHelper(n, source, level, nil, nil) }

// Superscript is ^text^.
type Superscript struct {
	ast.BaseInline
}

func (n *Superscript) Kind() ast.NodeKind { return KindSuperscript }

func (n *Superscript) Dump(source []byte, level int) { ast.DumpHelper(n, source, level, nil, nil) }

type scriptParser struct {
	marker byte
	build  func() ast.Node
}

func (p *scriptParser) Trigger() []byte {
	return []byte{p.marker}
}

func (p *scriptParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, segment := block.PeekLine()
	// A doubled marker belongs to strikethrough.
	if len(line) < 3 || line[1] == p.marker {
		return nil
	}
	end := -1
	for i := 1; i < len(line); i++ {
		c := line[i]
		if c == p.marker {
			end = i
			break
		}
		if util.IsSpace(c) {
			return nil
		}
	}
	if end < 0 || (end+1 < len(line) && line[end+1] == p.marker) {
		return nil
	}
	node := p.build()
	node.AppendChild(node, ast.NewTextSegment(text.NewSegment(segment.Start+1, segment.Start+end)))
	block.Advance(end + 1)
	return node
}

type scriptRenderer struct{}

func (r *scriptRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindSubscript, r.tag("sub"))
	reg.Register(KindSuperscript, r.tag("sup"))
}

func (r *scriptRenderer) tag(name string) renderer.NodeRendererFunc {
	return func(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			_, _ = w.WriteString("<" + name + ">")
		} else {
			_, _ = w.WriteString("</" + name + ">")
		}
		return ast.WalkContinue, nil
	}
}
