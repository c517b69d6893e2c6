// Package mmap implements a chunked, memory-mapped arena for fixed-size
// vector rows. The vector store uses it to keep large datasets out of the
// Go heap: rows live in page-cache-backed files and are handed out as
// zero-copy slices into the mapping.
package mmap

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"
)

const (
	// DefaultChunkSize is 64MB per mapped file.
	DefaultChunkSize = 64 * 1024 * 1024
	ArenaMagic       = 0x53574152 // "SWAR"
	ArenaVersion     = 1
	ArenaHeaderSize  = 64
)

// Row encodings stored in the chunk header.
const (
	RowFloat32 uint8 = 0
	RowFloat16 uint8 = 1
)

// chunk is a single memory-mapped file.
type chunk struct {
	id   int
	file *os.File
	data []byte
}

// Arena hands out fixed-size rows addressed by sequential index. Chunks
// are created lazily as indexes grow and re-opened on restart; the header
// of every chunk carries enough geometry to reject a mismatched reuse of
// the directory.
type Arena struct {
	mu       sync.RWMutex
	dir      string
	rowBytes int
	rowsPer  int
	chunks   []*chunk
	dim      uint32
	encoding uint8
	limit    int64 // soft byte limit over all chunks, 0 = none
}

// New opens (or creates) an arena under dir for rows of rowBytes bytes.
// dim and encoding are recorded in each chunk header and validated when
// existing chunks are re-opened. limitMB bounds total arena growth; zero
// disables the bound.
func New(dir string, rowBytes, dim int, encoding uint8, limitMB int) (*Arena, error) {
	if rowBytes <= 0 {
		return nil, fmt.Errorf("row size must be > 0, got %d", rowBytes)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create arena dir: %w", err)
	}

	rowsPer := (DefaultChunkSize - ArenaHeaderSize) / rowBytes
	if rowsPer == 0 {
		return nil, fmt.Errorf("row size %d exceeds chunk payload capacity", rowBytes)
	}

	a := &Arena{
		dir:      dir,
		rowBytes: rowBytes,
		rowsPer:  rowsPer,
		dim:      uint32(dim),
		encoding: encoding,
		limit:    int64(limitMB) * 1024 * 1024,
	}
	if err := a.openExisting(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Arena) openExisting() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return err
	}

	maxID := -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(entry.Name(), "arena_%04d.bin", &id); err == nil && id > maxID {
			maxID = id
		}
	}
	for i := 0; i <= maxID; i++ {
		if err := a.mapChunk(i); err != nil {
			return err
		}
	}
	return nil
}

func (a *Arena) mapChunk(id int) error {
	if a.limit > 0 && int64(len(a.chunks)+1)*DefaultChunkSize > a.limit {
		return fmt.Errorf("arena limit of %d bytes reached", a.limit)
	}

	name := filepath.Join(a.dir, fmt.Sprintf("arena_%04d.bin", id))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	fresh := info.Size() == 0

	if info.Size() < DefaultChunkSize {
		if err := file.Truncate(DefaultChunkSize); err != nil {
			file.Close()
			return err
		}
	}

	data, err := mmapFile(file.Fd(), DefaultChunkSize)
	if err != nil {
		file.Close()
		return err
	}

	if fresh {
		binary.LittleEndian.PutUint32(data[0:4], ArenaMagic)
		binary.LittleEndian.PutUint32(data[4:8], ArenaVersion)
		binary.LittleEndian.PutUint32(data[8:12], a.dim)
		binary.LittleEndian.PutUint32(data[12:16], uint32(a.rowBytes))
		data[16] = a.encoding
		// Bytes up to ArenaHeaderSize stay zero, reserved.
	} else {
		if got := binary.LittleEndian.Uint32(data[0:4]); got != ArenaMagic {
			munmapFile(data)
			file.Close()
			return fmt.Errorf("%s is not an arena chunk (magic %#x)", name, got)
		}
		if got := binary.LittleEndian.Uint32(data[4:8]); got != ArenaVersion {
			munmapFile(data)
			file.Close()
			return fmt.Errorf("%s: unsupported arena version %d", name, got)
		}
		if got := binary.LittleEndian.Uint32(data[8:12]); got != a.dim {
			munmapFile(data)
			file.Close()
			return fmt.Errorf("%s: dimension mismatch, expected %d got %d", name, a.dim, got)
		}
		if got := binary.LittleEndian.Uint32(data[12:16]); got != uint32(a.rowBytes) {
			munmapFile(data)
			file.Close()
			return fmt.Errorf("%s: row size mismatch, expected %d got %d", name, a.rowBytes, got)
		}
		if got := data[16]; got != a.encoding {
			munmapFile(data)
			file.Close()
			return fmt.Errorf("%s: encoding mismatch, expected %d got %d", name, a.encoding, got)
		}
	}

	a.chunks = append(a.chunks, &chunk{id: id, file: file, data: data})
	return nil
}

// Row returns the mapped bytes of row i, creating chunks as needed. The
// fast path takes only the read lock so concurrent readers never contend.
func (a *Arena) Row(i uint32) ([]byte, error) {
	chunkID := int(i) / a.rowsPer
	offset := ArenaHeaderSize + (int(i)%a.rowsPer)*a.rowBytes

	a.mu.RLock()
	if chunkID < len(a.chunks) {
		c := a.chunks[chunkID]
		a.mu.RUnlock()
		return c.data[offset : offset+a.rowBytes], nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	for chunkID >= len(a.chunks) {
		if err := a.mapChunk(len(a.chunks)); err != nil {
			return nil, err
		}
	}
	c := a.chunks[chunkID]
	return c.data[offset : offset+a.rowBytes], nil
}

// Rows reports how many rows fit in the currently mapped chunks.
func (a *Arena) Rows() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.chunks) * a.rowsPer
}

// Close unmaps and closes every chunk. The files remain on disk.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for _, c := range a.chunks {
		if err := munmapFile(c.data); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.chunks = nil
	return firstErr
}

// Remove closes the arena and deletes its chunk files.
func (a *Arena) Remove() error {
	if err := a.Close(); err != nil {
		return err
	}
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		var id int
		if _, err := fmt.Sscanf(entry.Name(), "arena_%04d.bin", &id); err == nil {
			if err := os.Remove(filepath.Join(a.dir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// AsFloat32 reinterprets mapped row bytes as float32 values without
// copying. Valid only on little-endian hosts, which is everything this
// engine targets.
func AsFloat32(b []byte, n int) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}

// AsUint16 reinterprets mapped row bytes as float16 bit patterns.
func AsUint16(b []byte, n int) []uint16 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), n)
}
