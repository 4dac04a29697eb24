package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "pkgwatch/pkg/logx"
)

// failureKeep bounds the failures file; when it grows past failureCompactAt
// lines it is rewritten keeping the newest failureKeep entries.
const (
	failureKeep      = 200
	failureCompactAt = 1000
)

type fileStore struct {
	dir string
	log logx.Logger

	mu           sync.Mutex
	failureLines int // -1 until first counted
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("file storage path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log, failureLines: -1}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) auditPath() string   { return filepath.Join(s.dir, "audit.jsonl") }
func (s *fileStore) failurePath() string { return filepath.Join(s.dir, "failures.jsonl") }

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSONL(s.auditPath(), e)
}

func (s *fileStore) AppendDeliveryFailure(ctx context.Context, e DeliveryFailure) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendJSONL(s.failurePath(), e); err != nil {
		return err
	}
	if s.failureLines >= 0 {
		s.failureLines++
	}
	if s.failureLines < 0 || s.failureLines > failureCompactAt {
		if err := s.compactFailuresLocked(); err != nil {
			s.log.Warn("failure log compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentDeliveryFailures(ctx context.Context, limit int) ([]DeliveryFailure, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readFailures(s.failurePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *fileStore) compactFailuresLocked() error {
	all, err := readFailures(s.failurePath())
	if err != nil {
		if os.IsNotExist(err) {
			s.failureLines = 0
			return nil
		}
		return err
	}
	if len(all) > failureKeep {
		all = all[len(all)-failureKeep:]
	}

	tmp := s.failurePath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range all {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.failurePath()); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.failureLines = len(all)
	return nil
}

func readFailures(path string) ([]DeliveryFailure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []DeliveryFailure
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e DeliveryFailure
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Skip corrupt lines rather than losing the whole log.
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func appendJSONL(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}
