package diagram_test

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/mdview/internal/diagram"
	"github.com/euforicio/mdview/internal/logging"
)

const square = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 40 20" width="40" height="20">` +
	`<rect x="0" y="0" width="40" height="20" fill="#ff0000"/></svg>`

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := diagram.NewRegistry(time.Second)
	reg.Register("Mermaid", diagram.EngineFunc(func(ctx context.Context, id, source string) (string, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return "<svg id=\"" + id + "\"></svg>", nil
	}))

	assert.True(t, reg.Supports("mermaid"))
	assert.False(t, reg.Supports("plantuml"))
	assert.Equal(t, []string{"mermaid"}, reg.Languages())

	svg, err := reg.Render(t.Context(), "MERMAID", "diagram-1", "graph TD; A-->B")
	require.NoError(t, err)
	assert.Equal(t, `<svg id="diagram-1"></svg>`, svg)

	_, err = reg.Render(t.Context(), "plantuml", "diagram-2", "x")
	require.ErrorIs(t, err, diagram.ErrUnsupported)

	_, err = reg.Render(t.Context(), "mermaid", "diagram-3", "  \n")
	require.ErrorIs(t, err, diagram.ErrEmptyDiagram)
}

func TestRegistryWrapsEngineErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	reg := diagram.NewRegistry(0)
	reg.Register("d2", diagram.EngineFunc(func(context.Context, string, string) (string, error) {
		return "", boom
	}))
	_, err := reg.Render(t.Context(), "d2", "id", "a -> b")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "render d2 diagram")
}

func TestD2Render(t *testing.T) {
	t.Parallel()
	svg, err := diagram.NewD2(logging.Discard()).Render(t.Context(), "diagram-x", "a -> b")
	require.NoError(t, err)
	assert.Contains(t, svg, "<svg")

	_, err = diagram.NewD2(nil).Render(t.Context(), "diagram-y", " ")
	require.ErrorIs(t, err, diagram.ErrEmptyDiagram)
}

func TestD2SyntaxError(t *testing.T) {
	t.Parallel()
	_, err := diagram.NewD2(logging.Discard()).Render(t.Context(), "diagram-z", "a -> {")
	require.Error(t, err)
}

func TestMermaidCLI(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "mmdc")
	// Writes an svg carrying the requested id to the -o path.
	body := "#!/bin/sh\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  case \"$1\" in\n" +
		"    -o) out=\"$2\"; shift ;;\n" +
		"    --svgId) id=\"$2\"; shift ;;\n" +
		"  esac\n" +
		"  shift\n" +
		"done\n" +
		"printf '<svg id=\"%s\"></svg>' \"$id\" > \"$out\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	m, err := diagram.NewMermaid(script)
	require.NoError(t, err)
	svg, err := m.Render(t.Context(), "diagram-42", "graph TD; A-->B")
	require.NoError(t, err)
	assert.Equal(t, `<svg id="diagram-42"></svg>`, svg)
}

func TestMermaidMissingCLI(t *testing.T) {
	t.Parallel()
	_, err := diagram.NewMermaid(filepath.Join(t.TempDir(), "missing-mmdc"))
	require.Error(t, err)
}

func TestSizeAndRasterize(t *testing.T) {
	t.Parallel()
	w, h, err := diagram.Size([]byte(square))
	require.NoError(t, err)
	assert.Equal(t, 40, w)
	assert.Equal(t, 20, h)

	data, err := diagram.Rasterize([]byte(square), 2)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 80, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())
}
