// Package kv provides the persistent stores for the signed-advertisement
// sequence counter: a plain file under the data directory, or a Redis key
// for deployments that already run one.
package kv

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// SeqKey is the record name shared by every backend.
const SeqKey = "ais_adv_seq"

// File persists the counter as a little-endian u32 in a single file.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create seq dir")
	}
	return &File{path: filepath.Join(dir, SeqKey)}, nil
}

func (f *File) Load() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read seq file")
	}
	if len(data) < 4 {
		return 0, errors.Errorf("seq file truncated: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (f *File) Store(seq uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], seq)

	// Write-then-rename so a power cut can't leave a half-written record.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf[:], 0644); err != nil {
		return errors.Wrap(err, "write seq file")
	}
	return errors.Wrap(os.Rename(tmp, f.path), "commit seq file")
}
