package db

import (
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	q := "UPDATE characters SET currency = currency + ? WHERE id = ? AND x = ?"
	if got := Rebind(SQLite, q); got != q {
		t.Fatalf("sqlite query must be unchanged, got %q", got)
	}
	want := "UPDATE characters SET currency = currency + $1 WHERE id = $2 AND x = $3"
	if got := Rebind(Postgres, q); got != want {
		t.Fatalf("unexpected postgres query %q", got)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": SQLite, "SQLite": SQLite, "postgresql": Postgres, "pgx": Postgres} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatalf("expected error for unsupported dialect")
	}
}

func TestOpenSQLiteInWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Dialect: SQLite, Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if got := Path(Config{Workspace: dir}); got != filepath.Join(dir, ".streetrun", "streetrun.db") {
		t.Fatalf("unexpected path %s", got)
	}
	var fk int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign keys not enabled")
	}
}
