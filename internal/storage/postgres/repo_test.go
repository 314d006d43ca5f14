package postgres

import (
	"strings"
	"testing"

	"nutrimerge/internal/storage"
)

func TestBuildCreateSQL(t *testing.T) {
	spec := storage.TableSpec{
		Name:     "nutrition.unified",
		Recreate: true,
		Columns: []storage.ColumnSpec{
			{Name: "product_name", Type: storage.TypeText},
			{Name: "energy_kcal", Type: storage.TypeFloat},
		},
	}
	got, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	want := []string{
		`CREATE SCHEMA IF NOT EXISTS "nutrition"`,
		`DROP TABLE IF EXISTS "nutrition"."unified"`,
		`CREATE TABLE IF NOT EXISTS "nutrition"."unified" ("product_name" text, "energy_kcal" double precision)`,
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("got:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestBuildCreateSQL_UnqualifiedNoRecreate(t *testing.T) {
	got, err := buildCreateSQL(storage.TableSpec{
		Name:    "t",
		Columns: []storage.ColumnSpec{{Name: "a", Type: storage.TypeText}},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if len(got) != 1 || got[0] != `CREATE TABLE IF NOT EXISTS "t" ("a" text)` {
		t.Fatalf("got %v", got)
	}

	if _, err := buildCreateSQL(storage.TableSpec{Name: "t"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestBuildInsertSQL_Placeholders(t *testing.T) {
	q, args, err := buildInsertSQL("public.t", []string{"a", "b"}, [][]any{{1, nil}, {"x", 2.5}})
	if err != nil {
		t.Fatalf("buildInsertSQL: %v", err)
	}
	want := `INSERT INTO "public"."t" ("a", "b") VALUES ($1, $2), ($3, $4)`
	if q != want {
		t.Fatalf("q=%s\nwant %s", q, want)
	}
	if len(args) != 4 || args[1] != nil || args[3] != 2.5 {
		t.Fatalf("args=%#v", args)
	}

	if _, _, err := buildInsertSQL("t", []string{"a", "b"}, [][]any{{1}}); err == nil {
		t.Fatalf("expected width error")
	}
}

func TestSplitQualifiedName(t *testing.T) {
	tests := []struct{ in, schema, table string }{
		{"t", "", "t"},
		{" s . t ", "s", "t"},
		{"a.b.c", "", "a.b.c"},
	}
	for _, tt := range tests {
		s, tb := splitQualifiedName(tt.in)
		if s != tt.schema || tb != tt.table {
			t.Errorf("splitQualifiedName(%q)=(%q,%q)", tt.in, s, tb)
		}
	}
}
