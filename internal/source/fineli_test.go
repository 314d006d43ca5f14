package source

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"nutrimerge/internal/config"
)

func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range members {
		latin1, err := charmap.ISO8859_1.NewEncoder().String(body)
		if err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(latin1)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
}

func TestLoadFineli(t *testing.T) {
	dir := t.TempDir()
	writeZip(t, filepath.Join(dir, "fineli_basic_package_1.zip"), map[string]string{
		"FOOD.csv":            "FOOD_ID;FOODNAME;IGCLASS\n1;Omena;FRUIT\n2;Mämmi;DESSERT\n",
		"COMPONENT_VALUE.csv": "FOOD_ID;EUFDNAME;BESTLOC;IGCLASS\n1;ENERC;218,5;X\n1;PROT;0,3;Y\n",
	})

	cfg := config.Default()
	cfg.DataDir = dir

	got, err := LoadFineli(context.Background(), cfg, "fineli_basic_package_1.zip")
	if err != nil {
		t.Fatalf("LoadFineli: %v", err)
	}

	wantCols := "FOOD_ID,FOODNAME,IGCLASS_x,EUFDNAME,BESTLOC,IGCLASS_y"
	if strings.Join(got.Columns, ",") != wantCols {
		t.Fatalf("columns=%v", got.Columns)
	}
	if got.Len() != 3 {
		t.Fatalf("rows=%d want 3", got.Len())
	}
	if got.Rows[0][3] != "ENERC" || got.Rows[0][4] != 218.5 {
		t.Fatalf("row0=%#v", got.Rows[0])
	}
	if got.Rows[1][3] != "PROT" || got.Rows[1][4] != 0.3 {
		t.Fatalf("row1=%#v", got.Rows[1])
	}
	if got.Rows[2][1] != "Mämmi" || got.Rows[2][3] != nil || got.Rows[2][4] != nil {
		t.Fatalf("unmatched food row=%#v", got.Rows[2])
	}
}

func TestLoadFineli_NestedMember(t *testing.T) {
	dir := t.TempDir()
	writeZip(t, filepath.Join(dir, "pkg.zip"), map[string]string{
		"Fineli_Rel20/food.csv":            "FOOD_ID;FOODNAME\n1;Omena\n",
		"Fineli_Rel20/component_value.csv": "FOOD_ID;BESTLOC\n1;1,5\n",
	})
	cfg := config.Default()
	cfg.DataDir = dir

	got, err := LoadFineli(context.Background(), cfg, "pkg.zip")
	if err != nil {
		t.Fatalf("LoadFineli: %v", err)
	}
	if got.Len() != 1 || got.Rows[0][2] != 1.5 {
		t.Fatalf("rows=%#v", got.Rows)
	}
}

func TestLoadFineli_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir

	t.Run("missing archive", func(t *testing.T) {
		_, err := LoadFineli(context.Background(), cfg, "")
		var mf *MissingFileError
		if !errors.As(err, &mf) || mf.DownloadURL != "https://fineli.fi" {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("missing member", func(t *testing.T) {
		writeZip(t, filepath.Join(dir, "half.zip"), map[string]string{
			"FOOD.csv": "FOOD_ID;FOODNAME\n1;Omena\n",
		})
		_, err := LoadFineli(context.Background(), cfg, "half.zip")
		if err == nil || !strings.Contains(err.Error(), "COMPONENT_VALUE.csv") {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		writeZip(t, filepath.Join(dir, "nokey.zip"), map[string]string{
			"FOOD.csv":            "ID;FOODNAME\n1;Omena\n",
			"COMPONENT_VALUE.csv": "FOOD_ID;BESTLOC\n1;1\n",
		})
		_, err := LoadFineli(context.Background(), cfg, "nokey.zip")
		if err == nil || !strings.Contains(err.Error(), "FOOD_ID") {
			t.Fatalf("err=%v", err)
		}
	})
}
