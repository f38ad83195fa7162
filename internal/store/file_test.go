package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"shortlink_bot/internal/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func openTestStore(t *testing.T, path string, opts ...FileOption) (*FileStore, *logtest.Hook) {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	s, err := OpenFile(path, logrus.NewEntry(logger), opts...)
	if err != nil {
		t.Fatalf("OpenFile returned error: %v", err)
	}

	return s, hook
}

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data", "database.json")
}

func TestOpenFileRequiresPath(t *testing.T) {
	if _, err := OpenFile("  ", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	s, hook := openTestStore(t, tempStorePath(t))

	ids, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers returned error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty store, got %v", ids)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "store_created" {
		t.Fatalf("expected store_created log entry, got %v", entry)
	}
	if entry.Level != logrus.InfoLevel {
		t.Fatalf("expected info level for missing file, got %s", entry.Level)
	}
}

func TestFileStoreDefaultAbsence(t *testing.T) {
	s, _ := openTestStore(t, tempStorePath(t))
	ctx := context.Background()

	token, ok, err := s.GetToken(ctx, 404)
	if err != nil {
		t.Fatalf("GetToken returned error: %v", err)
	}
	if ok || token != "" {
		t.Fatalf("expected absent token, got %q ok=%v", token, ok)
	}

	admin, err := s.IsAdmin(ctx, 404)
	if err != nil {
		t.Fatalf("IsAdmin returned error: %v", err)
	}
	if admin {
		t.Fatalf("expected unknown user not to be admin")
	}
}

func TestFileStoreReadAfterWrite(t *testing.T) {
	s, _ := openTestStore(t, tempStorePath(t))
	ctx := context.Background()

	if err := s.SetToken(ctx, 7, "abc"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}

	token, ok, err := s.GetToken(ctx, 7)
	if err != nil || !ok || token != "abc" {
		t.Fatalf("expected token abc, got %q ok=%v err=%v", token, ok, err)
	}

	if err := s.SetToken(ctx, 7, "def"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}

	token, ok, _ = s.GetToken(ctx, 7)
	if !ok || token != "def" {
		t.Fatalf("expected overwritten token def, got %q ok=%v", token, ok)
	}

	if err := s.Touch(ctx, 7); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	token, ok, _ = s.GetToken(ctx, 7)
	if !ok || token != "def" {
		t.Fatalf("expected token to survive touch, got %q ok=%v", token, ok)
	}
}

func TestFileStoreAddAdminIsIdempotent(t *testing.T) {
	path := tempStorePath(t)
	s, _ := openTestStore(t, path)
	ctx := context.Background()

	writes := 0
	s.write = func(path string, data []byte) error {
		writes++
		return writeFileAtomic(path, data)
	}

	for i := 0; i < 2; i++ {
		if err := s.AddAdmin(ctx, 11); err != nil {
			t.Fatalf("AddAdmin returned error: %v", err)
		}
	}

	admin, err := s.IsAdmin(ctx, 11)
	if err != nil || !admin {
		t.Fatalf("expected admin after promotion, got %v err=%v", admin, err)
	}
	if writes != 1 {
		t.Fatalf("expected second promotion to be a no-op, got %d writes", writes)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Users != 1 || stats.Admins != 1 || stats.WithToken != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFileStoreListInactiveSince(t *testing.T) {
	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	clock := &testClock{}
	s, _ := openTestStore(t, tempStorePath(t), WithClock(clock.Now))
	ctx := context.Background()

	seen := map[int64]time.Time{
		1: now.Add(-time.Hour),
		2: now.Add(-4 * 24 * time.Hour),
		3: now.Add(-10 * 24 * time.Hour),
	}
	for id, at := range seen {
		clock.Set(at)
		if err := s.Touch(ctx, id); err != nil {
			t.Fatalf("Touch(%d) returned error: %v", id, err)
		}
	}
	// Registered but never active users are not candidates.
	if err := s.SetToken(ctx, 4, "token-without-activity"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}

	ids, err := s.ListInactiveSince(ctx, 3*24*time.Hour, now)
	if err != nil {
		t.Fatalf("ListInactiveSince returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("expected users [2 3], got %v", ids)
	}

	all, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers returned error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 known users, got %v", all)
	}
}

func TestFileStoreTouchNeverMovesBackwards(t *testing.T) {
	path := tempStorePath(t)
	later := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	clock := &testClock{now: later}
	s, _ := openTestStore(t, path, WithClock(clock.Now))
	ctx := context.Background()

	if err := s.Touch(ctx, 5); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}

	clock.Set(later.Add(-time.Hour))
	if err := s.Touch(ctx, 5); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}

	reopened, _ := openTestStore(t, path)
	ids, _ := reopened.ListInactiveSince(ctx, time.Minute, later.Add(30*time.Second))
	if len(ids) != 0 {
		t.Fatalf("expected last activity to remain at %v, got inactive %v", later, ids)
	}
}

func TestFileStoreNoLostUpdates(t *testing.T) {
	path := tempStorePath(t)
	s, _ := openTestStore(t, path)
	ctx := context.Background()

	const workers = 40
	const sharedID = int64(1000)

	var wg sync.WaitGroup
	errs := make(chan error, workers*4)
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := int64(i + 1)
			if err := s.SetToken(ctx, id, fmt.Sprintf("token-%d", i)); err != nil {
				errs <- err
			}
			if err := s.Touch(ctx, id); err != nil {
				errs <- err
			}
			if err := s.SetToken(ctx, sharedID, fmt.Sprintf("shared-%d", i)); err != nil {
				errs <- err
			}
			if i%2 == 0 {
				if err := s.AddAdmin(ctx, sharedID); err != nil {
					errs <- err
				}
			} else if err := s.Touch(ctx, sharedID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent operation failed: %v", err)
	}

	reopened, _ := openTestStore(t, path)
	for _, st := range []*FileStore{s, reopened} {
		for i := 0; i < workers; i++ {
			token, ok, err := st.GetToken(ctx, int64(i+1))
			if err != nil || !ok || token != fmt.Sprintf("token-%d", i) {
				t.Fatalf("expected token-%d for user %d, got %q ok=%v err=%v", i, i+1, token, ok, err)
			}
		}

		shared, ok, _ := st.GetToken(ctx, sharedID)
		if !ok || !strings.HasPrefix(shared, "shared-") {
			t.Fatalf("expected one of the shared tokens, got %q", shared)
		}
		admin, _ := st.IsAdmin(ctx, sharedID)
		if !admin {
			t.Fatalf("expected shared user to be admin")
		}

		ids, _ := st.ListUsers(ctx)
		if len(ids) != workers+1 {
			t.Fatalf("expected %d users, got %d", workers+1, len(ids))
		}
	}

	inMemory, _, _ := s.GetToken(ctx, sharedID)
	onDisk, _, _ := reopened.GetToken(ctx, sharedID)
	if inMemory != onDisk {
		t.Fatalf("expected persisted shared token %q to match in-memory %q", onDisk, inMemory)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := tempStorePath(t)
	at := time.Date(2024, 7, 1, 9, 30, 15, 987654321, time.FixedZone("UTC+2", 2*3600))
	s, _ := openTestStore(t, path, WithClock(func() time.Time { return at }))
	ctx := context.Background()

	if err := s.SetToken(ctx, -100123, "tok en/with?chars"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}
	if err := s.Touch(ctx, -100123); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if err := s.AddAdmin(ctx, -100123); err != nil {
		t.Fatalf("AddAdmin returned error: %v", err)
	}

	reopened, _ := openTestStore(t, path)

	want := s.users[-100123]
	got, ok := reopened.users[-100123]
	if !ok {
		t.Fatalf("expected record after reopen")
	}
	if got.APIToken != want.APIToken || got.IsAdmin != want.IsAdmin || got.ID != want.ID {
		t.Fatalf("expected %+v after reopen, got %+v", want, got)
	}
	if !got.LastActiveAt.Equal(want.LastActiveAt) || got.LastActiveAt.Location() != time.UTC {
		t.Fatalf("expected exact timestamp %v, got %v", want.LastActiveAt, got.LastActiveAt)
	}
	if !got.LastActiveAt.Equal(domain.Truncate(at)) {
		t.Fatalf("expected millisecond timestamp %v, got %v", domain.Truncate(at), got.LastActiveAt)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	var doc struct {
		Version int                 `json:"version"`
		Users   map[string]fileUser `json:"users"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode store file: %v", err)
	}
	if doc.Version != fileFormatVersion {
		t.Fatalf("expected version %d, got %d", fileFormatVersion, doc.Version)
	}
	record := doc.Users["-100123"]
	if record.LastActiveAt != at.UnixMilli() || record.Token != "tok en/with?chars" || !record.IsAdmin {
		t.Fatalf("unexpected persisted record %+v", record)
	}
}

func TestFileStoreCorruptFileFallsBackToEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"version":1,"users":{"1":{"token":"ab`},
		{"not json", "garbage"},
		{"wrong shape", `{"users":["1","2"]}`},
		{"bad id", `{"users":{"alice":{"token":"x"}}}`},
		{"null document", `null`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := tempStorePath(t)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write corrupt file: %v", err)
			}

			s, hook := openTestStore(t, path)

			ids, err := s.ListUsers(context.Background())
			if err != nil || len(ids) != 0 {
				t.Fatalf("expected empty store, got %v err=%v", ids, err)
			}

			var warning *logrus.Entry
			for _, entry := range hook.AllEntries() {
				if entry.Data["event"] == "store_load_fallback" {
					warning = entry
				}
			}
			if warning == nil {
				t.Fatalf("expected store_load_fallback log entry")
			}
			if warning.Level != logrus.WarnLevel {
				t.Fatalf("expected warn level, got %s", warning.Level)
			}
			cause, _ := warning.Data[logrus.ErrorKey].(error)
			if !errors.Is(cause, domain.ErrCorruptData) {
				t.Fatalf("expected corrupt data cause, got %v", warning.Data[logrus.ErrorKey])
			}

			backup, _ := warning.Data["backup"].(string)
			if backup == "" {
				t.Fatalf("expected corrupt file to be moved aside, got %v", warning.Data)
			}
			if saved, err := os.ReadFile(backup); err != nil || string(saved) != tt.content {
				t.Fatalf("expected backup to hold original content, got %q err=%v", saved, err)
			}

			if err := s.SetToken(context.Background(), 1, "fresh"); err != nil {
				t.Fatalf("expected store to accept writes after fallback, got %v", err)
			}
		})
	}
}

func TestFileStoreMigratesLegacyLayout(t *testing.T) {
	path := tempStorePath(t)
	legacy := `{
  "tokens": {"123": "token-a", "456": "token-b"},
  "lastActive": {"123": 1720000000123, "789": 1720000000000},
  "admins": ["123", 456, 456]
}`
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	s, hook := openTestStore(t, path)
	ctx := context.Background()

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "store_loaded" || entry.Data["migrated"] != true {
		t.Fatalf("expected migrated store_loaded entry, got %v", entry)
	}

	ids, _ := s.ListUsers(ctx)
	if len(ids) != 3 || ids[0] != 123 || ids[1] != 456 || ids[2] != 789 {
		t.Fatalf("expected users [123 456 789], got %v", ids)
	}

	for id, want := range map[int64]bool{123: true, 456: true, 789: false} {
		admin, _ := s.IsAdmin(ctx, id)
		if admin != want {
			t.Fatalf("expected admin=%v for %d, got %v", want, id, admin)
		}
	}

	token, ok, _ := s.GetToken(ctx, 456)
	if !ok || token != "token-b" {
		t.Fatalf("expected migrated token, got %q ok=%v", token, ok)
	}

	if got := s.users[123].LastActiveAt; !got.Equal(time.UnixMilli(1720000000123)) {
		t.Fatalf("expected migrated timestamp, got %v", got)
	}

	if err := s.Touch(ctx, 999); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), `"tokens"`) || !strings.Contains(string(raw), `"users"`) {
		t.Fatalf("expected file rewritten in current layout, got %s", raw)
	}
}

func TestFileStorePreservesUnknownTopLevelFields(t *testing.T) {
	path := tempStorePath(t)
	content := `{"version":1,"users":{"1":{"token":"x","nickname":"ignored"}},"settings":{"theme":"dark"}}`
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	s, _ := openTestStore(t, path)
	if err := s.SetToken(context.Background(), 2, "y"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode file: %v", err)
	}
	var settings map[string]string
	if err := json.Unmarshal(doc["settings"], &settings); err != nil || settings["theme"] != "dark" {
		t.Fatalf("expected settings to be preserved, got %s", doc["settings"])
	}

	token, ok, _ := s.GetToken(context.Background(), 1)
	if !ok || token != "x" {
		t.Fatalf("expected record with unknown field to load, got %q ok=%v", token, ok)
	}
}

func TestFileStoreWriteFailureIsReportedAndRolledBack(t *testing.T) {
	s, _ := openTestStore(t, tempStorePath(t))
	ctx := context.Background()

	if err := s.SetToken(ctx, 1, "original"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}

	diskErr := errors.New("disk full")
	s.write = func(string, []byte) error { return diskErr }

	err := s.SetToken(ctx, 1, "replacement")
	if !errors.Is(err, domain.ErrPersistence) || !errors.Is(err, diskErr) {
		t.Fatalf("expected persistence failure wrapping disk error, got %v", err)
	}
	token, _, _ := s.GetToken(ctx, 1)
	if token != "original" {
		t.Fatalf("expected failed write to leave token unchanged, got %q", token)
	}

	if err := s.AddAdmin(ctx, 2); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	ids, _ := s.ListUsers(ctx)
	if len(ids) != 1 {
		t.Fatalf("expected failed create to be rolled back, got %v", ids)
	}
}

func TestFileStoreUnreadableFileIsMovedAside(t *testing.T) {
	path := tempStorePath(t)
	first, _ := openTestStore(t, path)
	if err := first.SetToken(context.Background(), 1, "keep-me-token"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}

	denyRead := func(s *FileStore) {
		s.read = func(string) ([]byte, error) { return nil, os.ErrPermission }
	}
	s, hook := openTestStore(t, path, denyRead)

	var warning *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "store_load_fallback" {
			warning = entry
		}
	}
	if warning == nil {
		t.Fatalf("expected store_load_fallback log entry")
	}
	cause, _ := warning.Data[logrus.ErrorKey].(error)
	if !errors.Is(cause, domain.ErrPersistence) || !errors.Is(cause, os.ErrPermission) {
		t.Fatalf("expected read failure cause, got %v", warning.Data[logrus.ErrorKey])
	}

	if err := s.Touch(context.Background(), 2); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}

	backup, _ := warning.Data["backup"].(string)
	if !strings.Contains(backup, ".unreadable-") {
		t.Fatalf("expected unreadable backup, got %v", warning.Data)
	}
	saved, err := os.ReadFile(backup)
	if err != nil || string(saved) != string(original) {
		t.Fatalf("expected backup to keep original bytes, got %q err=%v", saved, err)
	}
}

func TestFileStoreRefusesWritesWhenFileCannotBeMovedAside(t *testing.T) {
	path := tempStorePath(t)
	first, _ := openTestStore(t, path)
	if err := first.SetToken(context.Background(), 1, "keep-me-token"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}

	renameErr := errors.New("read-only file system")
	broken := func(s *FileStore) {
		s.read = func(string) ([]byte, error) { return nil, os.ErrPermission }
		s.rename = func(string, string) error { return renameErr }
	}
	s, _ := openTestStore(t, path, broken)
	ctx := context.Background()

	if err := s.SetToken(ctx, 2, "other-token"); !errors.Is(err, domain.ErrPersistence) || !errors.Is(err, renameErr) {
		t.Fatalf("expected write refused with persistence error, got %v", err)
	}
	if ids, _ := s.ListUsers(ctx); len(ids) != 0 {
		t.Fatalf("expected refused write to leave store empty, got %v", ids)
	}
	if err := s.Ping(ctx); !errors.Is(err, renameErr) {
		t.Fatalf("expected ping to report blocked store, got %v", err)
	}

	current, err := os.ReadFile(path)
	if err != nil || string(current) != string(original) {
		t.Fatalf("expected store file untouched, got %q err=%v", current, err)
	}
}

func TestFileStoreRespectsCanceledContext(t *testing.T) {
	s, _ := openTestStore(t, tempStorePath(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Touch(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if _, _, err := s.GetToken(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestFileStorePing(t *testing.T) {
	path := tempStorePath(t)
	s, _ := openTestStore(t, path)

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("expected ping to succeed, got %v", err)
	}

	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		t.Fatalf("remove store dir: %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail once the directory is gone")
	}
}
