package diagram

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/spf13/afero"
)

// Mermaid renders through the mermaid CLI (mmdc).
type Mermaid struct {
	bin string
	fs  afero.Fs
}

// NewMermaid locates the CLI. name may be a command on PATH or a path.
func NewMermaid(name string) (*Mermaid, error) {
	if name == "" {
		name = "mmdc"
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("mermaid cli not found: %w", err)
	}
	return &Mermaid{bin: bin, fs: afero.NewOsFs()}, nil
}

// Render implements Engine.
func (m *Mermaid) Render(ctx context.Context, id, source string) (string, error) {
	tmpDir, err := afero.TempDir(m.fs, "", "mermaid-cli-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = m.fs.RemoveAll(tmpDir) }()

	inPath := filepath.Join(tmpDir, "diagram.mmd")
	outPath := filepath.Join(tmpDir, "diagram.svg")
	if err := afero.WriteFile(m.fs, inPath, []byte(source), 0o644); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, m.bin,
		"-i", inPath,
		"-o", outPath,
		"-b", "transparent",
		"--svgId", id,
		"--quiet",
	)
	// mmdc writes temp files next to its input.
	cmd.Dir = tmpDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("mmdc failed: %w; output: %s", err, string(output))
	}

	data, err := afero.ReadFile(m.fs, outPath)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("mmdc produced empty svg")
	}
	return string(data), nil
}
