package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"keydance/internal/chatter"
	"keydance/internal/keycode"
	"keydance/internal/mode"
	"keydance/internal/tick"
)

func openTest(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keydance.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenAndClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestSchema(t *testing.T) {
	s, _ := openTest(t)
	if err := ValidateSchema(s.db); err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	v, err := SchemaVersion(s.db)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("expected version %d, got %d", len(migrations), v)
	}
	// Re-running migrations is a no-op.
	if err := MigrateDB(s.db); err != nil {
		t.Fatalf("MigrateDB again: %v", err)
	}
}

func TestLoadEmpty(t *testing.T) {
	s, _ := openTest(t)
	raw, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if raw != 0 {
		t.Errorf("expected 0, got %#x", raw)
	}
	at, err := s.UpdatedAt()
	if err != nil {
		t.Fatalf("UpdatedAt: %v", err)
	}
	if !at.IsZero() {
		t.Errorf("expected zero time, got %v", at)
	}
}

func TestSaveSurvivesReopen(t *testing.T) {
	s, path := openTest(t)
	if err := s.Save(0x81); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(0x83); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	raw, err := s2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if raw != 0x83 {
		t.Errorf("expected 0x83, got %#x", raw)
	}
}

func TestModeSelectorOverSQLite(t *testing.T) {
	s, path := openTest(t)
	sel, err := mode.Load(s)
	if err != nil {
		t.Fatalf("mode.Load: %v", err)
	}
	if err := sel.SetMode(mode.ModeB); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	sel2, err := mode.Load(s2)
	if err != nil {
		t.Fatalf("mode.Load: %v", err)
	}
	if sel2.Mode() != mode.ModeB {
		t.Errorf("expected mode b after restart, got %s", sel2.Mode())
	}
}

func TestChatterHistory(t *testing.T) {
	s, _ := openTest(t)

	recs := []chatter.Record{
		{Key: keycode.A, Pressed: true, Deltas: []tick.Duration{3, 4, 5}},
		{Key: keycode.A, Pressed: false, Deltas: []tick.Duration{2, 2, 2}},
		{Key: keycode.Space, Pressed: true, Deltas: []tick.Duration{1, 9, 7}},
	}
	for _, r := range recs {
		s.Emit(r)
	}

	rows, err := s.RecentChatter(10)
	if err != nil {
		t.Fatalf("RecentChatter: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Key != keycode.Space || !rows[0].Pressed {
		t.Errorf("unexpected newest row: %+v", rows[0])
	}
	if len(rows[2].Deltas) != 3 || rows[2].Deltas[2] != 5 {
		t.Errorf("unexpected deltas: %v", rows[2].Deltas)
	}

	counts, err := s.ChatterCounts()
	if err != nil {
		t.Fatalf("ChatterCounts: %v", err)
	}
	if counts[keycode.A] != 2 || counts[keycode.Space] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	limited, err := s.RecentChatter(1)
	if err != nil {
		t.Fatalf("RecentChatter: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 row, got %d", len(limited))
	}
}

func TestEmitReportsErrors(t *testing.T) {
	s, _ := openTest(t)
	var got error
	s.OnError(func(err error) { got = err })
	s.db.Close()

	s.Emit(chatter.Record{Key: keycode.A, Deltas: []tick.Duration{1, 1, 1}})
	if got == nil {
		t.Error("expected error callback after close")
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory(0x10)
	raw, _ := m.Load()
	if raw != 0x10 {
		t.Errorf("expected 0x10, got %#x", raw)
	}
	if err := m.Save(0x11); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if m.Saves() != 1 {
		t.Errorf("expected 1 save, got %d", m.Saves())
	}

	boom := errors.New("boom")
	m.FailWith(boom)
	if err := m.Save(0); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	raw, _ = m.Load()
	if raw != 0x11 {
		t.Errorf("failed save must not change value, got %#x", raw)
	}
}

func TestPing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ping.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on open store: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("Ping after Close should fail")
	}
}
