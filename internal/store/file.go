package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"shortlink_bot/internal/domain"
	"shortlink_bot/internal/logging"
)

const fileFormatVersion = 1

var _ domain.UserStore = (*FileStore)(nil)

// Keys of the persisted document. Anything else at the top level is carried
// through rewrites untouched.
const (
	keyVersion = "version"
	keyUsers   = "users"

	legacyKeyTokens     = "tokens"
	legacyKeyLastActive = "lastActive"
	legacyKeyAdmins     = "admins"
)

// fileUser is the persisted shape of one record.
type fileUser struct {
	Token        string `json:"token,omitempty"`
	LastActiveAt int64  `json:"lastActiveAt,omitempty"`
	IsAdmin      bool   `json:"isAdmin,omitempty"`
}

// FileStore keeps every user record in memory and rewrites a single JSON
// document on each mutation. All operations run under one lock; a mutation
// returns only after the document has been replaced on disk.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	users  map[int64]domain.User
	extra  map[string]json.RawMessage
	now    func() time.Time
	read   func(path string) ([]byte, error)
	rename func(oldpath, newpath string) error
	write  func(path string, data []byte) error
	logger *logrus.Entry

	// blocked is set when a file that failed to load could not be moved
	// aside. Writes are refused so the file is never overwritten.
	blocked error
}

// FileOption customizes a FileStore.
type FileOption func(*FileStore)

// WithClock overrides the time source used by Touch.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenFile loads the store at path. A missing, unreadable or corrupt file is
// not an error: the store starts empty and a warning is logged.
func OpenFile(path string, logger *logrus.Entry, opts ...FileOption) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	s := &FileStore{
		path:   path,
		users:  make(map[int64]domain.User),
		extra:  make(map[string]json.RawMessage),
		now:    time.Now,
		read:   os.ReadFile,
		rename: os.Rename,
		write:  writeFileAtomic,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.load()

	return s, nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "store_dir_error",
			"path":  s.path,
		}).WithError(err).Warn("could not create store directory")
	}

	raw, err := s.read(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithFields(logging.Fields{
			"event": "store_created",
			"path":  s.path,
		}).Info("store file not found, starting empty")
		return
	}
	if err != nil {
		s.fallback(fmt.Errorf("%w: read store file: %w", domain.ErrPersistence, err), "unreadable")
		return
	}

	users, extra, migrated, err := decodeDocument(raw)
	if err != nil {
		s.fallback(fmt.Errorf("%w: %w", domain.ErrCorruptData, err), "corrupt")
		return
	}

	s.users = users
	s.extra = extra

	fields := logging.Fields{
		"event": "store_loaded",
		"path":  s.path,
		"users": len(users),
	}
	if migrated {
		fields["migrated"] = true
	}
	s.logger.WithFields(fields).Info("loaded user store")
}

// fallback resets the store to empty after a failed load. The file is moved
// to <path>.<reason>-<unix> so the next write does not destroy it. If it
// cannot be moved, the store refuses writes.
func (s *FileStore) fallback(cause error, reason string) {
	s.users = make(map[int64]domain.User)
	s.extra = make(map[string]json.RawMessage)

	fields := logging.Fields{
		"event":  "store_load_fallback",
		"path":   s.path,
		"reason": reason,
	}

	backup := fmt.Sprintf("%s.%s-%d", s.path, reason, s.now().Unix())
	if err := s.rename(s.path, backup); err != nil {
		s.blocked = fmt.Errorf("store file %s could not be moved aside: %w", s.path, err)
		fields["backup_error"] = err.Error()
		fields["read_only"] = true
	} else {
		fields["backup"] = backup
	}

	s.logger.WithFields(fields).WithError(cause).Warn("store file unusable, starting empty")
}

// GetToken implements domain.UserStore.
func (s *FileStore) GetToken(ctx context.Context, id int64) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok || !user.HasToken() {
		return "", false, nil
	}

	return user.APIToken, true, nil
}

// SetToken implements domain.UserStore.
func (s *FileStore) SetToken(ctx context.Context, id int64, token string) error {
	return s.update(ctx, id, func(u *domain.User) bool {
		if u.APIToken == token {
			return false
		}
		u.APIToken = token
		return true
	})
}

// Touch implements domain.UserStore. The timestamp never moves backwards.
func (s *FileStore) Touch(ctx context.Context, id int64) error {
	return s.update(ctx, id, func(u *domain.User) bool {
		now := domain.Truncate(s.now())
		if !now.After(u.LastActiveAt) {
			return false
		}
		u.LastActiveAt = now
		return true
	})
}

// AddAdmin implements domain.UserStore.
func (s *FileStore) AddAdmin(ctx context.Context, id int64) error {
	return s.update(ctx, id, func(u *domain.User) bool {
		if u.IsAdmin {
			return false
		}
		u.IsAdmin = true
		return true
	})
}

// IsAdmin implements domain.UserStore.
func (s *FileStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.users[id].IsAdmin, nil
}

// ListUsers implements domain.UserStore. IDs are returned in ascending order.
func (s *FileStore) ListUsers(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids, nil
}

// ListInactiveSince implements domain.UserStore. Users that were never active
// are not reported.
func (s *FileStore) ListInactiveSince(ctx context.Context, threshold time.Duration, now time.Time) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutoff := now.Add(-threshold)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0)
	for id, user := range s.users {
		if user.LastActiveAt.IsZero() {
			continue
		}
		if user.LastActiveAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	return ids, nil
}

// Stats implements domain.UserStore.
func (s *FileStore) Stats(ctx context.Context) (domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.Stats{Users: int64(len(s.users))}
	for _, user := range s.users {
		if user.IsAdmin {
			stats.Admins++
		}
		if user.HasToken() {
			stats.WithToken++
		}
	}

	return stats, nil
}

// Ping reports whether the store directory is still usable.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	blocked := s.blocked
	s.mu.RUnlock()
	if blocked != nil {
		return blocked
	}

	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("stat store dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store dir %s is not a directory", filepath.Dir(s.path))
	}

	return nil
}

// update applies mutate to the record for id and persists the result while
// holding the write lock. mutate reports whether it changed anything. When the
// write fails the previous in-memory state is restored.
func (s *FileStore) update(ctx context.Context, id int64, mutate func(*domain.User) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blocked != nil {
		return fmt.Errorf("persist user %d: %w: %w", id, domain.ErrPersistence, s.blocked)
	}

	prev, existed := s.users[id]
	next := prev
	next.ID = id

	if !mutate(&next) && existed {
		return nil
	}

	s.users[id] = next

	if err := s.persistLocked(); err != nil {
		if existed {
			s.users[id] = prev
		} else {
			delete(s.users, id)
		}

		s.logger.WithFields(logging.Fields{
			"event":   "store_write_error",
			"path":    s.path,
			"user_id": id,
		}).WithError(err).Error("failed to persist user store")

		return fmt.Errorf("persist user %d: %w: %w", id, domain.ErrPersistence, err)
	}

	return nil
}

func (s *FileStore) persistLocked() error {
	data, err := encodeDocument(s.users, s.extra)
	if err != nil {
		return err
	}

	return s.write(s.path, data)
}

func encodeDocument(users map[int64]domain.User, extra map[string]json.RawMessage) ([]byte, error) {
	records := make(map[string]fileUser, len(users))
	for id, user := range users {
		record := fileUser{
			Token:   user.APIToken,
			IsAdmin: user.IsAdmin,
		}
		if !user.LastActiveAt.IsZero() {
			record.LastActiveAt = user.LastActiveAt.UnixMilli()
		}
		records[domain.FormatUserID(id)] = record
	}

	doc := make(map[string]any, len(extra)+2)
	for key, value := range extra {
		doc[key] = value
	}
	doc[keyVersion] = fileFormatVersion
	doc[keyUsers] = records

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode store file: %w", err)
	}

	return append(data, '\n'), nil
}

// decodeDocument parses the current layout, or migrates the legacy
// tokens/lastActive/admins layout when no users map is present.
func decodeDocument(raw []byte) (map[int64]domain.User, map[string]json.RawMessage, bool, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, false, fmt.Errorf("decode store file: %w", err)
	}
	if doc == nil {
		return nil, nil, false, errors.New("decode store file: document is null")
	}

	extra := make(map[string]json.RawMessage)
	for key, value := range doc {
		switch key {
		case keyVersion, keyUsers, legacyKeyTokens, legacyKeyLastActive, legacyKeyAdmins:
		default:
			extra[key] = value
		}
	}

	if rawUsers, ok := doc[keyUsers]; ok {
		users, err := decodeUsers(rawUsers)
		if err != nil {
			return nil, nil, false, err
		}
		return users, extra, false, nil
	}

	users, err := decodeLegacy(doc)
	if err != nil {
		return nil, nil, false, err
	}

	_, hasTokens := doc[legacyKeyTokens]
	_, hasLastActive := doc[legacyKeyLastActive]
	_, hasAdmins := doc[legacyKeyAdmins]

	return users, extra, hasTokens || hasLastActive || hasAdmins, nil
}

func decodeUsers(raw json.RawMessage) (map[int64]domain.User, error) {
	var records map[string]fileUser
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	users := make(map[int64]domain.User, len(records))
	for key, record := range records {
		id, err := domain.ParseUserID(key)
		if err != nil {
			return nil, fmt.Errorf("decode users: %w", err)
		}
		if record.LastActiveAt < 0 {
			return nil, fmt.Errorf("decode users: negative lastActiveAt for %d", id)
		}

		user := domain.User{
			ID:       id,
			APIToken: record.Token,
			IsAdmin:  record.IsAdmin,
		}
		if record.LastActiveAt > 0 {
			user.LastActiveAt = time.UnixMilli(record.LastActiveAt).UTC()
		}
		users[id] = user
	}

	return users, nil
}

func decodeLegacy(doc map[string]json.RawMessage) (map[int64]domain.User, error) {
	users := make(map[int64]domain.User)
	record := func(id int64) domain.User {
		user := users[id]
		user.ID = id
		return user
	}

	if raw, ok := doc[legacyKeyTokens]; ok {
		var tokens map[string]string
		if err := json.Unmarshal(raw, &tokens); err != nil {
			return nil, fmt.Errorf("decode legacy tokens: %w", err)
		}
		for key, token := range tokens {
			id, err := domain.ParseUserID(key)
			if err != nil {
				return nil, fmt.Errorf("decode legacy tokens: %w", err)
			}
			user := record(id)
			user.APIToken = token
			users[id] = user
		}
	}

	if raw, ok := doc[legacyKeyLastActive]; ok {
		var lastActive map[string]json.Number
		if err := json.Unmarshal(raw, &lastActive); err != nil {
			return nil, fmt.Errorf("decode legacy lastActive: %w", err)
		}
		for key, value := range lastActive {
			id, err := domain.ParseUserID(key)
			if err != nil {
				return nil, fmt.Errorf("decode legacy lastActive: %w", err)
			}
			millis, err := parseMillis(value)
			if err != nil {
				return nil, fmt.Errorf("decode legacy lastActive for %d: %w", id, err)
			}
			user := record(id)
			user.LastActiveAt = time.UnixMilli(millis).UTC()
			users[id] = user
		}
	}

	if raw, ok := doc[legacyKeyAdmins]; ok {
		var admins []json.RawMessage
		if err := json.Unmarshal(raw, &admins); err != nil {
			return nil, fmt.Errorf("decode legacy admins: %w", err)
		}
		for _, entry := range admins {
			id, err := parseLegacyID(entry)
			if err != nil {
				return nil, fmt.Errorf("decode legacy admins: %w", err)
			}
			user := record(id)
			user.IsAdmin = true
			users[id] = user
		}
	}

	return users, nil
}

// parseLegacyID accepts an identifier written either as a JSON number or as a
// JSON string.
func parseLegacyID(raw json.RawMessage) (int64, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return domain.ParseUserID(asString)
	}

	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return 0, fmt.Errorf("unsupported id %s", string(raw))
	}

	return domain.ParseUserID(asNumber.String())
}

func parseMillis(value json.Number) (int64, error) {
	if millis, err := value.Int64(); err == nil {
		return millis, nil
	}

	f, err := strconv.ParseFloat(value.String(), 64)
	if err != nil {
		return 0, err
	}

	return int64(f), nil
}

// writeFileAtomic replaces path with data by writing a synced temp file in the
// same directory and renaming it over the target.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true

	syncDir(dir)

	return nil
}

// syncDir flushes the directory entry after a rename. Some platforms do not
// support syncing directories; that case is ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
