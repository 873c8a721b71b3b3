package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestGetBoolUnset(t *testing.T) {
	d := openTestDB(t)
	v, err := GetBool(d, "module_running")
	if err != nil {
		t.Fatalf("GetBool failed: %v", err)
	}
	if v {
		t.Error("unset pref should read false")
	}
}

func TestSetBoolOverwrites(t *testing.T) {
	d := openTestDB(t)
	p := Prefs{DB: d}

	for _, want := range []bool{true, false, true} {
		if err := p.SetBool("system_dns_allowed", want); err != nil {
			t.Fatalf("SetBool failed: %v", err)
		}
		got, err := p.Bool("system_dns_allowed")
		if err != nil {
			t.Fatalf("Bool failed: %v", err)
		}
		if got != want {
			t.Errorf("Bool() = %v, want %v", got, want)
		}
	}

	var rows int
	if err := d.QueryRow("SELECT COUNT(*) FROM prefs").Scan(&rows); err != nil {
		t.Fatalf("count prefs: %v", err)
	}
	if rows != 1 {
		t.Errorf("prefs rows = %d, want 1", rows)
	}
}
