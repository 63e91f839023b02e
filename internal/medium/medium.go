// Package medium provides windowed, byte-addressable, optionally writable
// access to the block device or image file a consistency check runs
// against. A source is exposed through fixed-size chunk windows that are
// mapped, sync'd, and unmapped independently, since the fsck core needs
// to hold several regions of a possibly large device open for writing at
// once rather than one whole-file view.
package medium

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultChunkSize is a power of two in the 64 KiB-16 MiB range.
const DefaultChunkSize = 1 << 20 // 1 MiB

// ErrReadOnly is returned by Write/Sync when the medium was opened read-only.
var ErrReadOnly = errors.New("medium: opened read-only")

type chunk struct {
	data  []byte
	dirty bool
}

// Medium is a windowed view over a block device or regular file.
type Medium struct {
	f         *os.File
	writable  bool
	size      int64
	chunkSize int64
	chunks    map[int64]*chunk
}

// Open opens path for reading, and for writing too when writable is true.
// Mapping is read-only unless the run is in interactive or autofix mode
// — callers pick writable accordingly.
func Open(path string, writable bool) (*Medium, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening medium %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat medium %s: %w", path, err)
	}

	return &Medium{
		f:         f,
		writable:  writable,
		size:      fi.Size(),
		chunkSize: DefaultChunkSize,
		chunks:    make(map[int64]*chunk),
	}, nil
}

// Size returns the medium's total byte length.
func (m *Medium) Size() int64 { return m.size }

// Writable reports whether the medium was opened for writing.
func (m *Medium) Writable() bool { return m.writable }

// Close flushes every dirty chunk and releases the underlying file.
func (m *Medium) Close() error {
	for idx := range m.chunks {
		if err := m.unmapLocked(idx); err != nil {
			return err
		}
	}
	return m.f.Close()
}

func (m *Medium) chunkIndex(offset int64) int64 {
	return offset / m.chunkSize
}

// Map returns the full contents of the chunk containing offset, loading it
// from the underlying file on first access and returning the same buffer on
// later calls (idempotent).
func (m *Medium) Map(offset int64) ([]byte, error) {
	idx := m.chunkIndex(offset)
	if c, ok := m.chunks[idx]; ok {
		return c.data, nil
	}

	start := idx * m.chunkSize
	length := m.chunkSize
	if start+length > m.size {
		length = m.size - start
	}
	if length < 0 {
		length = 0
	}

	data := make([]byte, length)
	if length > 0 {
		if _, err := m.f.ReadAt(data, start); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("mapping chunk at %d: %w", start, err)
		}
	}

	c := &chunk{data: data}
	m.chunks[idx] = c
	return c.data, nil
}

// Sync flushes the dirty bytes of the chunk containing offset back to the
// underlying file.
func (m *Medium) Sync(offset int64) error {
	idx := m.chunkIndex(offset)
	return m.syncLocked(idx)
}

func (m *Medium) syncLocked(idx int64) error {
	c, ok := m.chunks[idx]
	if !ok || !c.dirty {
		return nil
	}
	if !m.writable {
		return ErrReadOnly
	}

	start := idx * m.chunkSize
	if _, err := m.f.WriteAt(c.data, start); err != nil {
		return fmt.Errorf("syncing chunk at %d: %w", start, err)
	}
	c.dirty = false
	return nil
}

// Unmap flushes and releases the chunk containing offset.
func (m *Medium) Unmap(offset int64) error {
	idx := m.chunkIndex(offset)
	return m.unmapLocked(idx)
}

func (m *Medium) unmapLocked(idx int64) error {
	if err := m.syncLocked(idx); err != nil {
		return err
	}
	delete(m.chunks, idx)
	return nil
}

// MapRaw returns a one-off copy of [offset, offset+length), for descriptors
// that cross chunk boundaries such as an LVD's map table, a USD's
// allocation-descriptor tail, or an SBD's bitmap. Unlike Map,
// the returned slice is not cached and writes to it are not tracked; use
// WriteRaw to write such a region back.
func (m *Medium) MapRaw(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > m.size {
		return nil, fmt.Errorf("map_raw out of bounds: offset=%d length=%d size=%d", offset, length, m.size)
	}

	buf := make([]byte, length)
	if length > 0 {
		if _, err := m.f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("map_raw at %d: %w", offset, err)
		}
	}
	return buf, nil
}

// WriteRaw writes data at offset directly to the underlying file and
// fsyncs it, bypassing the chunk cache. Used by the repair driver for
// whole-descriptor rewrites (copy_descriptor, fix_lvid, fix_pd) that always
// touch the full declared region in one shot.
func (m *Medium) WriteRaw(offset int64, data []byte) error {
	if !m.writable {
		return ErrReadOnly
	}
	if _, err := m.f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write_raw at %d: %w", offset, err)
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("write_raw fsync at %d: %w", offset, err)
	}

	// Invalidate any cached chunk windows the write touched so a later Map
	// call observes the new bytes instead of a stale cached copy.
	first := m.chunkIndex(offset)
	last := m.chunkIndex(offset + int64(len(data)) - 1)
	for idx := first; idx <= last; idx++ {
		delete(m.chunks, idx)
	}

	return nil
}

// ReadAt reads length bytes starting at offset, transparently spanning
// chunk boundaries by mapping whichever chunks are touched.
func (m *Medium) ReadAt(offset int64, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	for len(out) < length {
		chunkData, err := m.Map(offset)
		if err != nil {
			return nil, err
		}

		start := offset % m.chunkSize
		avail := int64(len(chunkData)) - start
		if avail <= 0 {
			return nil, fmt.Errorf("read_at %d: past end of medium", offset)
		}

		want := int64(length - len(out))
		if want > avail {
			want = avail
		}

		out = append(out, chunkData[start:start+want]...)
		offset += want
	}
	return out, nil
}

// WriteAt writes data starting at offset into the mapped chunk cache,
// marking the touched chunks dirty. The caller must Sync (or Close) to make
// the write durable: writes only land on the underlying file once their
// chunk is sync'd.
func (m *Medium) WriteAt(offset int64, data []byte) error {
	if !m.writable {
		return ErrReadOnly
	}

	for len(data) > 0 {
		idx := m.chunkIndex(offset)
		chunkData, err := m.Map(offset)
		if err != nil {
			return err
		}

		start := offset % m.chunkSize
		n := copy(chunkData[start:], data)
		if n == 0 {
			return fmt.Errorf("write_at %d: past end of medium", offset)
		}

		m.chunks[idx].dirty = true
		data = data[n:]
		offset += int64(n)
	}

	return nil
}
