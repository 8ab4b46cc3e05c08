package buildinfo_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/euforicio/mdview/internal/buildinfo"
)

func TestSummaryUsesInjectedValues(t *testing.T) {
	version, commit, date := buildinfo.Version, buildinfo.Commit, buildinfo.Date
	t.Cleanup(func() { buildinfo.Version, buildinfo.Commit, buildinfo.Date = version, commit, date })

	buildinfo.Version, buildinfo.Commit, buildinfo.Date = "v1.2.0", "abcdef0123", "2025-01-02"
	assert.Equal(t, "v1.2.0 (abcdef0 2025-01-02)", buildinfo.Summary())

	buildinfo.Version = ""
	assert.True(t, strings.HasPrefix(buildinfo.Summary(), "dev"))
}
