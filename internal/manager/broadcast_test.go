package manager_test

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"townforge/internal/config"
	"townforge/internal/locales"
	"townforge/internal/manager"
	persistlog "townforge/internal/persistence/log"
	"townforge/internal/protocol"
	"townforge/internal/registry"
	"townforge/internal/validator"
)

// downBus fails every publish, standing in for an unreachable relay.
type downBus struct{}

func (downBus) Send(protocol.Message) error { return errors.New("relay unreachable") }
func (downBus) Close() error                { return nil }

func TestBroadcastFailureKeepsLocalStateAndAuditsMiss(t *testing.T) {
	db := newFakeDB()
	loc, err := locales.Load("")
	if err != nil {
		t.Fatalf("locales: %v", err)
	}
	auditDir := t.TempDir()
	audit := persistlog.NewAuditWriter(auditDir)

	towns := registry.NewTowns()
	users := newFakeProvider()
	mgr := manager.New(manager.Deps{
		Config:    config.Config{ServerName: "s1", CrossServer: true},
		DB:        db,
		Broker:    downBus{},
		Towns:     towns,
		Claims:    registry.NewClaimWorlds(),
		Invites:   registry.NewInvites(),
		Users:     users,
		Validator: validator.New(),
		Locales:   loc,
		Log:       log.New(io.Discard, "", 0),
		Audit:     audit,
	})

	alice := newTestUser("alice")
	users.connect(alice)
	mgr.Towns().CreateTown(alice, "Avalon")
	mgr.Wait()

	// The database write and registry mutation stand; only propagation
	// was lost.
	if _, ok := towns.ByName("Avalon"); !ok {
		t.Fatalf("failed publish rolled back local state")
	}
	if alice.received("founded") != 1 {
		t.Fatalf("creator not notified despite committed state")
	}

	if err := audit.Close(); err != nil {
		t.Fatalf("close audit: %v", err)
	}
	miss := 0
	for _, rec := range readAuditRecords(t, auditDir) {
		if rec.Direction == "miss" && rec.Type == protocol.TypeTownUpdate {
			miss++
			if rec.Detail == "" {
				t.Fatalf("miss record has no failure detail")
			}
		}
	}
	if miss != 1 {
		t.Fatalf("miss records = %d, want 1", miss)
	}
}

func readAuditRecords(t *testing.T, dir string) []persistlog.Record {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read audit dir: %v", err)
	}
	var out []persistlog.Record
	for _, e := range entries {
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("open %s: %v", e.Name(), err)
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("zstd %s: %v", e.Name(), err)
		}
		sc := bufio.NewScanner(dec)
		for sc.Scan() {
			var rec persistlog.Record
			if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
				t.Fatalf("bad audit line %q: %v", sc.Text(), err)
			}
			out = append(out, rec)
		}
		if err := sc.Err(); err != nil {
			t.Fatalf("scan %s: %v", e.Name(), err)
		}
		dec.Close()
		_ = f.Close()
	}
	return out
}
