package source

import (
	"database/sql"
	"strings"

	"nutrimerge/internal/config"
)

// Capabilities reports which optional integrations this run can use.
// Callers branch on the flags instead of inspecting loader errors.
type Capabilities struct {
	// ProductSearch is true when an Open Food Facts search URL is configured.
	ProductSearch bool
	// DumpQuery is true when the embedded analytical engine (the "sqlite"
	// database/sql driver) is linked into the binary.
	DumpQuery bool
}

// ProbeCapabilities evaluates the capability flags for cfg. It has no side
// effects and can be called once at startup.
func ProbeCapabilities(cfg config.Config) Capabilities {
	return Capabilities{
		ProductSearch: strings.TrimSpace(cfg.OpenFoodFacts.SearchURL) != "",
		DumpQuery:     hasDriver(dumpDriver),
	}
}

// String renders the flags for logs: "product_search=true dump_query=false".
func (c Capabilities) String() string {
	return "product_search=" + boolText(c.ProductSearch) + " dump_query=" + boolText(c.DumpQuery)
}

const dumpDriver = "sqlite"

func hasDriver(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func boolText(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
