// Package vectorstore holds the immutable vector set behind an index.
//
// Data arrives once through SetData as a flat row-major float32 block and
// is copied, never aliased; after a graph build starts the store is
// treated as read-only until the next SetData or snapshot load. Rows live
// either on the heap or, for datasets that should stay out of the garbage
// collector's way, in a memory-mapped arena. Storage precision is float32
// or float16.
package vectorstore

import (
	"fmt"
	"math"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
	"github.com/navigable/smallworld/pkg/storage/mmap"
	"github.com/viterin/vek/vek32"
	"github.com/x448/float16"
)

// Option configures a Store at construction.
type Option func(*options)

type options struct {
	precision      distance.Precision
	arenaDir       string
	arenaLimitMB   int
	validateFinite bool
}

// WithPrecision selects the storage precision. Default is float32.
func WithPrecision(p distance.Precision) Option {
	return func(o *options) { o.precision = p }
}

// WithArena backs the store with memory-mapped chunk files under dir.
// limitMB bounds arena growth, zero means unbounded.
func WithArena(dir string, limitMB int) Option {
	return func(o *options) {
		o.arenaDir = dir
		o.arenaLimitMB = limitMB
	}
}

// WithFiniteCheck toggles NaN/Inf rejection on load. Default on.
func WithFiniteCheck(on bool) Option {
	return func(o *options) { o.validateFinite = on }
}

// Store is the engine's vector set. Methods are not synchronized; the
// engine serializes mutation against builds and searches.
type Store struct {
	opts       options
	dim        int
	count      int
	normalized bool
	zeroRows   int

	f32   []float32
	f16   []uint16
	arena *mmap.Arena
}

// New creates an empty store. Dimension is fixed by the first SetData.
func New(opts ...Option) *Store {
	o := options{precision: distance.Float32, validateFinite: true}
	for _, fn := range opts {
		fn(&o)
	}
	return &Store{opts: o}
}

// Precision returns the storage precision.
func (s *Store) Precision() distance.Precision { return s.opts.precision }

// Dim returns the vector dimension, zero before the first load.
func (s *Store) Dim() int { return s.dim }

// Count returns the number of stored vectors.
func (s *Store) Count() int { return s.count }

// Normalized reports whether rows were L2-normalized after the last load.
func (s *Store) Normalized() bool { return s.normalized }

// ZeroRows returns how many all-zero rows the last normalization skipped.
func (s *Store) ZeroRows() int { return s.zeroRows }

// SetData replaces the store contents with a copy of a flat row-major
// block of n vectors of dim components each. Previous contents are
// dropped even on a dimension change.
func (s *Store) SetData(data []float32, n, dim int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative point count %d", core.ErrInvalidArgument, n)
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be > 0, got %d", core.ErrInvalidArgument, dim)
	}
	if len(data) != n*dim {
		return fmt.Errorf("%w: data length %d does not match %d points of dim %d",
			core.ErrInvalidArgument, len(data), n, dim)
	}
	if s.opts.validateFinite {
		for i, v := range data {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("%w: non-finite component at offset %d", core.ErrInvalidArgument, i)
			}
		}
	}

	if err := s.reset(dim); err != nil {
		return err
	}
	s.count = n

	switch {
	case s.arena != nil && s.opts.precision == distance.Float16:
		for i := 0; i < n; i++ {
			row, err := s.arena.Row(uint32(i))
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrResourceExhausted, err)
			}
			dst := mmap.AsUint16(row, dim)
			narrow(dst, data[i*dim:(i+1)*dim])
		}
	case s.arena != nil:
		for i := 0; i < n; i++ {
			row, err := s.arena.Row(uint32(i))
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrResourceExhausted, err)
			}
			copy(mmap.AsFloat32(row, dim), data[i*dim:(i+1)*dim])
		}
	case s.opts.precision == distance.Float16:
		s.f16 = make([]uint16, n*dim)
		narrow(s.f16, data)
	default:
		s.f32 = make([]float32, n*dim)
		copy(s.f32, data)
	}
	return nil
}

// reset clears contents and (re)creates the arena for a new dimension.
func (s *Store) reset(dim int) error {
	s.f32 = nil
	s.f16 = nil
	s.normalized = false
	s.zeroRows = 0
	s.count = 0

	if s.opts.arenaDir != "" {
		if s.arena != nil {
			if err := s.arena.Remove(); err != nil {
				return fmt.Errorf("%w: reset arena: %v", core.ErrResourceExhausted, err)
			}
			s.arena = nil
		}
		rowBytes := dim * 4
		enc := mmap.RowFloat32
		if s.opts.precision == distance.Float16 {
			rowBytes = dim * 2
			enc = mmap.RowFloat16
		}
		a, err := mmap.New(s.opts.arenaDir, rowBytes, dim, enc, s.opts.arenaLimitMB)
		if err != nil {
			return fmt.Errorf("%w: open arena: %v", core.ErrResourceExhausted, err)
		}
		s.arena = a
	}
	s.dim = dim
	return nil
}

// NormalizeL2 scales every row to unit L2 norm in place. All-zero rows
// are left untouched and counted. useAccel routes the arithmetic through
// the SIMD kernels; the scalar path keeps a fixed accumulation order for
// bitwise reproducibility.
func (s *Store) NormalizeL2(useAccel bool) int {
	skipped := 0
	for i := 0; i < s.count; i++ {
		if s.opts.precision == distance.Float16 {
			row := s.VectorF16(i)
			wide := make([]float32, s.dim)
			widen(wide, row)
			if !normalizeRow(wide, useAccel) {
				skipped++
				continue
			}
			narrow(row, wide)
			continue
		}
		if !normalizeRow(s.Vector(i), useAccel) {
			skipped++
		}
	}
	s.normalized = true
	s.zeroRows = skipped
	return skipped
}

func normalizeRow(row []float32, useAccel bool) bool {
	var norm float64
	if useAccel {
		norm = float64(vek32.Dot(row, row))
	} else {
		for _, v := range row {
			norm += float64(v) * float64(v)
		}
	}
	if norm == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(norm))
	if useAccel {
		vek32.MulNumber_Inplace(row, inv)
	} else {
		for i := range row {
			row[i] *= inv
		}
	}
	return true
}

// Vector returns a view of row i as float32. Valid only for float32
// precision; the slice aliases store memory and must not be mutated.
func (s *Store) Vector(i int) []float32 {
	if s.arena != nil {
		row, err := s.arena.Row(uint32(i))
		if err != nil {
			return nil
		}
		return mmap.AsFloat32(row, s.dim)
	}
	return s.f32[i*s.dim : (i+1)*s.dim]
}

// VectorF16 returns a view of row i as float16 bits.
func (s *Store) VectorF16(i int) []uint16 {
	if s.arena != nil {
		row, err := s.arena.Row(uint32(i))
		if err != nil {
			return nil
		}
		return mmap.AsUint16(row, s.dim)
	}
	return s.f16[i*s.dim : (i+1)*s.dim]
}

// CopyVector writes row i into dst as float32, widening half precision
// rows. dst must have dim capacity.
func (s *Store) CopyVector(dst []float32, i int) {
	if s.opts.precision == distance.Float16 {
		widen(dst[:s.dim], s.VectorF16(i))
		return
	}
	copy(dst[:s.dim], s.Vector(i))
}

// Block returns the whole store as one contiguous float32 slice when the
// layout allows it. Batched kernels use this fast path; arena and half
// precision stores return ok=false and callers fall back to row access.
func (s *Store) Block() ([]float32, bool) {
	if s.arena == nil && s.opts.precision == distance.Float32 {
		return s.f32, true
	}
	return nil, false
}

// Adopt installs pre-validated rows, taking ownership of the slice. The
// snapshot loader uses it to avoid a second copy; arena stores still copy
// into their mapping.
func (s *Store) Adopt(f32 []float32, f16 []uint16, n, dim int, normalized bool) error {
	if err := s.reset(dim); err != nil {
		return err
	}
	s.count = n
	s.normalized = normalized

	switch {
	case s.arena != nil && s.opts.precision == distance.Float16:
		for i := 0; i < n; i++ {
			row, err := s.arena.Row(uint32(i))
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrResourceExhausted, err)
			}
			copy(mmap.AsUint16(row, dim), f16[i*dim:(i+1)*dim])
		}
	case s.arena != nil:
		for i := 0; i < n; i++ {
			row, err := s.arena.Row(uint32(i))
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrResourceExhausted, err)
			}
			copy(mmap.AsFloat32(row, dim), f32[i*dim:(i+1)*dim])
		}
	case s.opts.precision == distance.Float16:
		s.f16 = f16
	default:
		s.f32 = f32
	}
	return nil
}

// ExportF32 returns a copy of the rows widened to float32, for the
// serializer.
func (s *Store) ExportF32() []float32 {
	out := make([]float32, s.count*s.dim)
	if block, ok := s.Block(); ok {
		copy(out, block)
		return out
	}
	for i := 0; i < s.count; i++ {
		s.CopyVector(out[i*s.dim:(i+1)*s.dim], i)
	}
	return out
}

// ExportF16 returns a copy of the raw half precision rows. Valid only
// for float16 precision.
func (s *Store) ExportF16() []uint16 {
	out := make([]uint16, s.count*s.dim)
	for i := 0; i < s.count; i++ {
		copy(out[i*s.dim:(i+1)*s.dim], s.VectorF16(i))
	}
	return out
}

// MemoryBytes estimates resident bytes held by the store.
func (s *Store) MemoryBytes() int64 {
	if s.arena != nil {
		return int64(s.arena.Rows()) * int64(s.rowBytes())
	}
	return int64(len(s.f32))*4 + int64(len(s.f16))*2
}

func (s *Store) rowBytes() int {
	if s.opts.precision == distance.Float16 {
		return s.dim * 2
	}
	return s.dim * 4
}

// Close releases arena mappings. Heap stores have nothing to release.
func (s *Store) Close() error {
	if s.arena != nil {
		err := s.arena.Close()
		s.arena = nil
		return err
	}
	return nil
}

func widen(dst []float32, src []uint16) {
	for i, v := range src {
		dst[i] = float16.Frombits(v).Float32()
	}
}

func narrow(dst []uint16, src []float32) {
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v).Bits()
	}
}
