// Package registry is the durable client list (clients.db) and the
// inbound-definition file (inbounds.db).
package registry

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/najahiiii/xray-panel/internal/fsutil"
	"github.com/najahiiii/xray-panel/internal/model"
)

// Store is the line-oriented client table. Every write is a whole-file
// rewrite done under an exclusive flock and replaced by rename.
type Store struct {
	path string
	log  *slog.Logger
	now  func() time.Time
}

func New(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{path: path, log: log, now: time.Now}
}

func (s *Store) Path() string { return s.path }

func (s *Store) lock(ctx context.Context, exclusive bool) (fsutil.Unlock, error) {
	return fsutil.Lock(ctx, fsutil.LockPath(s.path), exclusive)
}

// ReadAll returns every well-formed row in file order.
func (s *Store) ReadAll(ctx context.Context) ([]model.ClientRecord, error) {
	unlock, err := s.lock(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.ClientRecord, 0, len(lines))
	for i, line := range lines {
		rec, err := ParseRecord(line, now)
		if err != nil {
			s.log.Debug("skip registry row", "line", i+1, "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, username string) (model.ClientRecord, error) {
	records, err := s.ReadAll(ctx)
	if err != nil {
		return model.ClientRecord{}, err
	}
	for _, r := range records {
		if r.Username == username {
			return r, nil
		}
	}
	return model.ClientRecord{}, fmt.Errorf("client %s: %w", username, model.ErrNotFound)
}

func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	_, err := s.Get(ctx, username)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Append adds a row. The duplicate check and the write share one lock.
func (s *Store) Append(ctx context.Context, r model.ClientRecord) error {
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	lines, err := s.readLines()
	if err != nil {
		return err
	}
	for _, line := range lines {
		if usernameOf(line) == r.Username {
			return fmt.Errorf("client %s: %w", r.Username, model.ErrDuplicateUsername)
		}
	}
	return s.writeLines(append(lines, FormatRecord(r)))
}

// UpdateInPlace rewrites the first row for username with mutate applied.
// Other rows are written back exactly as read.
func (s *Store) UpdateInPlace(ctx context.Context, username string, mutate func(*model.ClientRecord)) (model.ClientRecord, error) {
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return model.ClientRecord{}, err
	}
	defer unlock()

	lines, err := s.readLines()
	if err != nil {
		return model.ClientRecord{}, err
	}
	now := s.now()
	for i, line := range lines {
		if usernameOf(line) != username {
			continue
		}
		rec, err := ParseRecord(line, now)
		if err != nil {
			continue
		}
		mutate(&rec)
		rec.Username = username
		lines[i] = FormatRecord(rec)
		if err := s.writeLines(lines); err != nil {
			return model.ClientRecord{}, err
		}
		return rec, nil
	}
	return model.ClientRecord{}, fmt.Errorf("client %s: %w", username, model.ErrNotFound)
}

// UpdateAll applies mutate to every well-formed row in one rewrite and
// returns the rows it reported as changed. Nothing is written when no row
// changed.
func (s *Store) UpdateAll(ctx context.Context, mutate func(*model.ClientRecord) bool) ([]model.ClientRecord, error) {
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	now := s.now()
	var changed []model.ClientRecord
	for i, line := range lines {
		rec, err := ParseRecord(line, now)
		if err != nil {
			continue
		}
		if !mutate(&rec) {
			continue
		}
		lines[i] = FormatRecord(rec)
		changed = append(changed, rec)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := s.writeLines(lines); err != nil {
		return nil, err
	}
	return changed, nil
}

// Delete drops every row for username and reports whether any existed.
func (s *Store) Delete(ctx context.Context, username string) (bool, error) {
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return false, err
	}
	defer unlock()

	lines, err := s.readLines()
	if err != nil {
		return false, err
	}
	kept := lines[:0]
	removed := false
	for _, line := range lines {
		if usernameOf(line) == username {
			removed = true
			continue
		}
		kept = append(kept, line)
	}
	if !removed {
		return false, nil
	}
	return true, s.writeLines(kept)
}

// Replace swaps the whole table, used by restore.
func (s *Store) Replace(ctx context.Context, data []byte) error {
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()
	return fsutil.WriteAtomic(s.path, data, 0o644)
}

// Export copies the raw table to w.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	unlock, err := s.lock(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ModTime is used by the reconcile job to notice hand edits.
func (s *Store) ModTime() time.Time {
	fi, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

func (s *Store) readLines() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

func (s *Store) writeLines(lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return fsutil.WriteAtomic(s.path, buf.Bytes(), 0o644)
}
