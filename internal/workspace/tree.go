package workspace

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/euforicio/mdview/internal/docpath"
	"github.com/euforicio/mdview/internal/renderer"
)

// NodeType identifies what a tree node represents.
type NodeType string

const (
	NodeTypeDirectory NodeType = "directory"
	NodeTypeFile      NodeType = "file"
)

// Node is a directory or markdown file of the folder tree.
type Node struct {
	Modified     time.Time          `json:"modified,omitzero"`
	Metadata     *renderer.Metadata `json:"metadata,omitempty"`
	Name         string             `json:"name"`
	RawName      string             `json:"rawName"`
	RelativePath string             `json:"relativePath"`
	Type         NodeType           `json:"type"`
	Title        string             `json:"title"`
	Children     []*Node            `json:"children,omitempty"`
	Size         int64              `json:"size"`
}

// MetadataReader extracts front matter from a document.
type MetadataReader interface {
	Metadata(content []byte) renderer.Metadata
}

// TreeOptions control how the tree is constructed.
type TreeOptions struct {
	Metadata MetadataReader
	WalkOptions
}

type treeBuilder struct {
	*walker
	meta MetadataReader
}

// BuildTree returns the directory tree of markdown files below root.
// Directories without markdown files are left out, except the root.
func BuildTree(ctx context.Context, root DirHandle, opts TreeOptions) (*Node, error) {
	b := &treeBuilder{walker: newWalker(opts.WalkOptions), meta: opts.Metadata}
	node, err := b.buildDir(ctx, root)
	if err != nil {
		return nil, err
	}
	if node == nil {
		node = &Node{Name: root.Name(), RawName: root.Name(), Type: NodeTypeDirectory, Title: root.Name()}
	}
	return node, nil
}

func (b *treeBuilder) buildDir(ctx context.Context, dir DirHandle) (*Node, error) {
	var children []*Node
	for h, err := range dir.Entries(ctx) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			b.report(dir.Path(), err)
			break
		}
		if b.skip(h) {
			continue
		}
		switch typed := h.(type) {
		case DirHandle:
			child, err := b.buildDir(ctx, typed)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		case FileHandle:
			if !isMarkdownName(typed.Name()) {
				continue
			}
			node, err := b.buildFile(ctx, typed)
			if err != nil {
				b.report(typed.Path(), err)
				continue
			}
			children = append(children, node)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(children) == 0 && dir.Path() != "" {
		return nil, nil
	}

	sort.SliceStable(children, func(i, j int) bool {
		if children[i].Type == children[j].Type {
			a, b := strings.ToLower(children[i].Title), strings.ToLower(children[j].Title)
			if a != b {
				return a < b
			}
			return children[i].Title < children[j].Title
		}
		return children[i].Type == NodeTypeDirectory
	})

	display := dir.Name()
	if dir.Path() != "" {
		display = displayName(dir.Name())
	}
	return &Node{
		Name:         display,
		RawName:      dir.Name(),
		RelativePath: dir.Path(),
		Type:         NodeTypeDirectory,
		Title:        display,
		Children:     children,
	}, nil
}

func (b *treeBuilder) buildFile(ctx context.Context, file FileHandle) (*Node, error) {
	info, err := file.Stat(ctx)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", file.Path(), err)
	}

	display := displayName(file.Name())
	node := &Node{
		Name:         display,
		RawName:      file.Name(),
		RelativePath: file.Path(),
		Type:         NodeTypeFile,
		Title:        display,
		Modified:     info.ModTime(),
		Size:         info.Size(),
	}
	if b.meta == nil {
		return node, nil
	}

	content, err := file.ReadText(ctx)
	if err != nil {
		return nil, err
	}
	if meta := b.meta.Metadata([]byte(content)); !meta.IsZero() {
		node.Metadata = &meta
		if meta.Title != "" {
			node.Title = meta.Title
		}
	}
	return node, nil
}

func displayName(name string) string {
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

func isMarkdownName(name string) bool {
	return docpath.IsMarkdown(name)
}
