package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/najahiiii/xray-panel/internal/model"
)

func newStore(t *testing.T, body string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clients.db")
	if body != "" {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("seed registry: %v", err)
		}
	}
	return New(path, nil)
}

func record(name string) model.ClientRecord {
	return model.ClientRecord{
		Username:   name,
		QuotaGB:    10,
		Expiry:     time.Date(2030, 1, 2, 3, 4, 5, 0, time.Local),
		Protocol:   model.ProtocolVLESS,
		Transport:  model.TransportWS,
		Status:     model.StatusActive,
		Credential: "cred-" + name,
	}
}

func TestReadAllSkipsCorruptRows(t *testing.T) {
	s := newStore(t, strings.Join([]string{
		"alice;10;2048;2030-01-02 03:04:05;VLESS-WS;uuid-a",
		"broken;row",
		"",
		"bob;x;y;not-a-date;TROJAN-GRPC-DISABLED;secret",
	}, "\n")+"\n")

	before := time.Now()
	got, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].UsedBytes != 2048 || got[0].Transport != model.TransportWS {
		t.Fatalf("alice parsed as %+v", got[0])
	}
	bob := got[1]
	if bob.QuotaGB != 0 || bob.UsedBytes != 0 || bob.Status != model.StatusDisabled {
		t.Fatalf("bob parsed as %+v", bob)
	}
	if bob.Expiry.Before(before.Add(-time.Second)) {
		t.Fatalf("bad date should default to now, got %v", bob.Expiry)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	s := newStore(t, "")
	got, err := s.ReadAll(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("ReadAll on missing file = %v, %v", got, err)
	}
}

func TestAppendRejectsDuplicate(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	if err := s.Append(ctx, record("alice")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, record("alice")); !errors.Is(err, model.ErrDuplicateUsername) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	ok, err := s.Exists(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if ok, _ := s.Exists(ctx, "Alice"); ok {
		t.Fatal("usernames are case sensitive")
	}
}

func TestUpdateInPlaceKeepsOtherRows(t *testing.T) {
	odd := "legacy;5;100.00;2031-01-01 00:00:00;VMESS-GRPC;id-x"
	s := newStore(t, "alice;10;0;2030-01-02 03:04:05;VLESS-WS-EXPIRED;uuid-a\n"+odd+"\n")
	ctx := context.Background()

	updated, err := s.UpdateInPlace(ctx, "alice", func(r *model.ClientRecord) {
		r.Status = model.StatusActive
		r.QuotaGB = 20
	})
	if err != nil {
		t.Fatalf("UpdateInPlace: %v", err)
	}
	if updated.Tag() != "VLESS-WS" {
		t.Fatalf("tag = %s", updated.Tag())
	}

	data, _ := os.ReadFile(s.Path())
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0] != "alice;20;0;2030-01-02 03:04:05;VLESS-WS;uuid-a" {
		t.Fatalf("rewritten row = %q", lines[0])
	}
	if lines[1] != odd {
		t.Fatalf("untouched row changed: %q", lines[1])
	}

	if _, err := s.UpdateInPlace(ctx, "ghost", func(*model.ClientRecord) {}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, record(name)); err != nil {
			t.Fatalf("Append %s: %v", name, err)
		}
	}
	removed, err := s.Delete(ctx, "b")
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v", removed, err)
	}
	removed, err = s.Delete(ctx, "b")
	if err != nil || removed {
		t.Fatalf("second Delete = %v, %v", removed, err)
	}
	got, _ := s.ReadAll(ctx)
	if len(got) != 2 || got[0].Username != "a" || got[1].Username != "c" {
		t.Fatalf("order after delete: %+v", got)
	}
}

func TestConcurrentAppendsKeepEveryRow(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Append(ctx, record(fmt.Sprintf("user%02d", i))); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	// same name from many writers: exactly one may win
	var dupWins int
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Append(ctx, record("racer")); err == nil {
				mu.Lock()
				dupWins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != n+1 {
		t.Fatalf("rows = %d, want %d", len(got), n+1)
	}
	if dupWins != 1 {
		t.Fatalf("racer appended %d times", dupWins)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	r := record("carol")
	r.QuotaGB = 1.5
	r.UsedBytes = 123456789
	r.Protocol = model.ProtocolTROJAN
	r.Transport = model.TransportGRPC
	r.Status = model.StatusExpired

	line := FormatRecord(r)
	if line != "carol;1.5;123456789;2030-01-02 03:04:05;TROJAN-GRPC-EXPIRED;cred-carol" {
		t.Fatalf("FormatRecord = %q", line)
	}
	back, err := ParseRecord(line, time.Now())
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if !back.Expiry.Equal(r.Expiry) {
		t.Fatalf("expiry %v vs %v", back.Expiry, r.Expiry)
	}
	back.Expiry = r.Expiry
	if back != r {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, r)
	}
}

func TestUpdateAllRewritesChangedRows(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := s.Append(ctx, record(name)); err != nil {
			t.Fatalf("Append %s: %v", name, err)
		}
	}

	changed, err := s.UpdateAll(ctx, func(r *model.ClientRecord) bool {
		if r.Username == "carol" {
			return false
		}
		r.UsedBytes += 100
		return true
	})
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if len(changed) != 2 || changed[0].Username != "alice" || changed[1].UsedBytes != 100 {
		t.Fatalf("changed = %+v", changed)
	}
	all, _ := s.ReadAll(ctx)
	if all[0].UsedBytes != 100 || all[1].UsedBytes != 100 || all[2].UsedBytes != 0 {
		t.Fatalf("rows after UpdateAll: %+v", all)
	}

	before := s.ModTime()
	changed, err = s.UpdateAll(ctx, func(r *model.ClientRecord) bool { return false })
	if err != nil || changed != nil {
		t.Fatalf("no-op UpdateAll = %v, %v", changed, err)
	}
	if !s.ModTime().Equal(before) {
		t.Fatal("no-op UpdateAll rewrote the file")
	}
}
