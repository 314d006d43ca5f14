package source

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"nutrimerge/internal/config"
)

func TestMissingFileError(t *testing.T) {
	err := requireFile(filepath.Join(t.TempDir(), "nope.xlsx"), "https://ciqual.anses.fr/")

	var mf *MissingFileError
	if !errors.As(err, &mf) {
		t.Fatalf("expected *MissingFileError, got %T %v", err, err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected errors.Is(fs.ErrNotExist)")
	}
	msg := err.Error()
	if !strings.Contains(msg, "https://ciqual.anses.fr/") || !strings.Contains(msg, "nope.xlsx") {
		t.Fatalf("message lacks path or url: %s", msg)
	}
}

func TestRequireFile_Directory(t *testing.T) {
	err := requireFile(t.TempDir(), "u")
	if err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("err=%v", err)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&MissingDependencyError{Name: "sqlite"}, `optional integration "sqlite" is not available`},
		{&RemoteAPIError{URL: "http://x/v1/livsmedel/1", StatusCode: 404, Body: "not found"}, "API error 404 from http://x/v1/livsmedel/1: not found"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("got %q want %q", got, tt.want)
		}
	}
}

func TestProbeCapabilities(t *testing.T) {
	cfg := config.Default()
	caps := ProbeCapabilities(cfg)
	if caps.ProductSearch {
		t.Fatalf("product search should be off without a search url")
	}
	// The sqlite backend is linked by this package.
	if !caps.DumpQuery {
		t.Fatalf("dump query should be available")
	}

	cfg.OpenFoodFacts.SearchURL = "https://world.openfoodfacts.org/api/v2/search"
	caps = ProbeCapabilities(cfg)
	if !caps.ProductSearch {
		t.Fatalf("product search should be on")
	}
	if caps.String() != "product_search=true dump_query=true" {
		t.Fatalf("String()=%q", caps.String())
	}
}
