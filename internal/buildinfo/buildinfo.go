// Package buildinfo reports the version mdview was built from.
package buildinfo

import "runtime/debug"

// Version metadata is injected at build time via ldflags. When it is not,
// the module version and VCS stamp recorded by the go tool are used.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Summary returns a human-readable version string such as
// "v1.2.0 (abc1234 2025-01-02)".
func Summary() string {
	version, commit, date := Version, Commit, Date
	if info, ok := debug.ReadBuildInfo(); ok {
		if (version == "" || version == "dev") && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "":
				commit = s.Value
			case s.Key == "vcs.time" && date == "":
				date = s.Value
			}
		}
	}
	if version == "" {
		version = "dev"
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}

	switch {
	case commit != "" && date != "":
		return version + " (" + commit + " " + date + ")"
	case commit != "":
		return version + " (" + commit + ")"
	case date != "":
		return version + " (" + date + ")"
	}
	return version
}
