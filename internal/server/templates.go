package server

import (
	"embed"
	"html/template"
	"io"
	"strings"

	"github.com/euforicio/mdview/internal/editor"
	"github.com/euforicio/mdview/internal/workspace"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

type templateRenderer struct {
	tmpl *template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"isActive": strings.EqualFold,
		"isDir": func(n *workspace.Node) bool {
			return n != nil && n.Type == workspace.NodeTypeDirectory
		},
		"dictNode": func(n *workspace.Node, active string) treeViewData {
			return treeViewData{Node: n, Active: active}
		},
	}

	base, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}

	return &templateRenderer{tmpl: base}, nil
}

func (r *templateRenderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

type pageViewData struct {
	Tree  *workspace.Node
	HTML  template.HTML
	State editor.State
}

type treeViewData struct {
	Node   *workspace.Node
	Active string
}
