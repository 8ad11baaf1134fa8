package buildinfo

import "fmt"

// These values are overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// EngineVersion identifies the external DNS test engine this broker was
	// built against, for version_info's zonemaster_engine field. The engine
	// itself is out of scope (spec.md §1); this is just a label.
	EngineVersion = "unknown"
)

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}
