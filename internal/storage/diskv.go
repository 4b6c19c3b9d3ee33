package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterbourgon/diskv/v3"

	logx "healthtimer/pkg/logx"
)

// diskvStore keeps one file per key under <path>/kv and appends audit
// records to <path>/audit.jsonl.
type diskvStore struct {
	d   *diskv.Diskv
	log logx.Logger

	mu        sync.Mutex
	auditFile *os.File
}

func openDiskv(cfg Config, log logx.Logger) (Store, error) {
	base := strings.TrimSpace(cfg.Path)
	if base == "" {
		return nil, errors.New("storage.path is required for diskv driver")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(filepath.Join(base, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	d := diskv.New(diskv.Options{
		BasePath:     filepath.Join(base, "kv"),
		Transform:    func(string) []string { return []string{} },
		CacheSizeMax: 256 * 1024,
		FilePerm:     0o600,
		PathPerm:     0o755,
	})
	return &diskvStore{d: d, log: log, auditFile: af}, nil
}

func (s *diskvStore) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auditFile == nil
}

func (s *diskvStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.closed() {
		return nil, false, ErrClosed
	}
	if !s.d.Has(key) {
		return nil, false, nil
	}
	v, err := s.d.Read(key)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *diskvStore) Put(_ context.Context, key string, value []byte) error {
	if s.closed() {
		return ErrClosed
	}
	if strings.ContainsAny(key, `/\`) || strings.TrimSpace(key) == "" {
		return errors.New("storage: invalid diskv key " + key)
	}
	return s.d.Write(key, value)
}

func (s *diskvStore) Delete(_ context.Context, key string) error {
	if s.closed() {
		return ErrClosed
	}
	if !s.d.Has(key) {
		return nil
	}
	return s.d.Erase(key)
}

func (s *diskvStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *diskvStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
