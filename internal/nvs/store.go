// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package nvs implements persistent configuration storage: a small blob
// key/value store plus the atomic two-phase save/load of the link
// config and register catalog on top of it.
//
// Store is the NVS primitive the rest of the system consumes
// (open/get_blob/set_blob/commit/close); File and Mmap are two real
// backends for it, mirroring the teacher's file.go/mmap.go pair of
// persistence strategies for the same kind of problem.
package nvs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

// Namespace is the single NVS namespace the gateway uses.
const Namespace = "gateway-fw-cfg"

// Store is the blob key/value primitive consumed by Load/Save.
type Store interface {
	// GetBlob returns the bytes stored under key, or found=false if the
	// key has never been written. MmapStore also reports found=false
	// for a key whose slot holds only zero bytes.
	GetBlob(key string) (data []byte, found bool, err error)
	// SetBlob writes data under key. It is not guaranteed durable until
	// Commit returns.
	SetBlob(key string, data []byte) error
	// Commit flushes all pending writes to stable storage.
	Commit() error
	Close() error
}

// FileStore stores each key as its own file inside a directory,
// following the write+fsync discipline of the teacher's FileStorage.
type FileStore struct {
	dir string

	mu    sync.Mutex
	dirty map[string][]byte
}

// OpenFileStore opens (creating if necessary) a directory-backed store.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("nvs: open %s: %w", dir, err)
	}
	return &FileStore{dir: dir, dirty: make(map[string][]byte)}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".blob")
}

func (s *FileStore) GetBlob(key string) ([]byte, bool, error) {
	s.mu.Lock()
	if data, ok := s.dirty[key]; ok {
		s.mu.Unlock()
		out := make([]byte, len(data))
		copy(out, data)
		return out, true, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("nvs: read %s: %w", key, err)
	}
	return data, true, nil
}

func (s *FileStore) SetBlob(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.dirty[key] = cp
	return nil
}

// Commit fsyncs every pending key to its own file.
func (s *FileStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, data := range s.dirty {
		f, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("nvs: commit %s: %w", key, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return fmt.Errorf("nvs: commit %s: %w", key, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("nvs: fsync %s: %w", key, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("nvs: close %s: %w", key, err)
		}
	}
	s.dirty = make(map[string][]byte)
	return nil
}

func (s *FileStore) Close() error { return nil }

// slotSize is the fixed per-key region in the single backing file
// MmapStore maps, large enough for either blob kind this package
// writes (see persist.go's configBlobSize/descriptorBlobSize).
const slotSize = 64

// maxSlots is configBlobSize's slot plus one slot per catalog entry.
const maxSlots = 1 + 60

// MmapStore maps a single fixed-layout file and serves each key from a
// byte-offset slot within it, exercising github.com/edsrzf/mmap-go for
// zero-copy blob access the way the teacher's MmapStorage does for its
// register table.
type MmapStore struct {
	mu   sync.Mutex
	file *os.File
	data mmap.MMap
	// slotIndex maps a key to its fixed slot index. "firmware-config" is
	// always slot 0; "rad{N}" is slot 1+N.
}

// OpenMmapStore opens (creating/truncating to size if necessary) a
// memory-mapped blob store at path.
func OpenMmapStore(path string) (*MmapStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("nvs: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	total := int64(slotSize * maxSlots)
	if fi.Size() != total {
		if err := f.Truncate(total); err != nil {
			f.Close()
			return nil, fmt.Errorf("nvs: resize %s: %w", path, err)
		}
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("nvs: mmap %s: %w", path, err)
	}
	return &MmapStore{file: f, data: data}, nil
}

func slotIndex(key string) (int, error) {
	if key == "firmware-config" {
		return 0, nil
	}
	var n int
	if _, err := fmt.Sscanf(key, "rad%d", &n); err != nil {
		return 0, fmt.Errorf("nvs: unknown key %q", key)
	}
	if n < 0 || n >= maxSlots-1 {
		return 0, fmt.Errorf("nvs: key %q out of range", key)
	}
	return 1 + n, nil
}

func (s *MmapStore) GetBlob(key string) ([]byte, bool, error) {
	idx, err := slotIndex(key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.data[idx*slotSize : (idx+1)*slotSize]
	if allZero(region) {
		return nil, false, nil
	}
	out := make([]byte, slotSize)
	copy(out, region)
	return out, true, nil
}

func (s *MmapStore) SetBlob(key string, data []byte) error {
	idx, err := slotIndex(key)
	if err != nil {
		return err
	}
	if len(data) > slotSize {
		return fmt.Errorf("nvs: blob for %q exceeds slot size", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	region := s.data[idx*slotSize : (idx+1)*slotSize]
	for i := range region {
		region[i] = 0
	}
	copy(region, data)
	return nil
}

func (s *MmapStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Flush()
}

func (s *MmapStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.data.Unmap(); err != nil {
		return err
	}
	return s.file.Close()
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
