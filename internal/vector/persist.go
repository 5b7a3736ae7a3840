package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
)

// fileMagic and fileVersion open every index file.
const (
	fileMagic   = "OBVX"
	fileVersion = uint32(1)
)

// headerSize is the fixed prefix before the first vector entry.
const headerSize = 4 + 4 + 4 + 8 + 8 + 8 + 4

// Save snapshots the current generation to path so a restart can serve queries before
// the first rebuild. Format (little endian): magic "OBVX", version (4), dimension (4),
// generation (8), builtAt unix nanos (8), embedding watermark (8), n (4), then per
// vector: idLen (4), id bytes, vector (dimension*4 bytes).
// Saving an index that was never built is a no-op.
func (x *Index) Save(path string) error {
	gen := x.current.Load()
	if path == "" || gen == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := writeGeneration(w, gen); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeGeneration(w io.Writer, gen *generation) error {
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []interface{}{
		fileVersion,
		uint32(gen.dimension),
		gen.number,
		gen.builtAt.UnixNano(),
		gen.watermark,
		uint32(len(gen.ids)),
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for i, id := range gen.ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := io.WriteString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(EncodeFloat32s(gen.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load replaces the current generation with the snapshot at path. A missing file is not
// an error; the index simply stays empty until the first rebuild. Counts read from the
// file are checked against its size before anything is allocated.
func (x *Index) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat index file: %w", err)
	}
	if info.Size() < headerSize {
		return fmt.Errorf("index file truncated: %d bytes", info.Size())
	}

	r := bufio.NewReader(f)
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != fileMagic {
		return fmt.Errorf("not an index file: bad magic %q", magic)
	}
	var version, dim, n uint32
	var number uint64
	var builtAt, watermark int64
	for _, v := range []interface{}{&version, &dim, &number, &builtAt, &watermark, &n} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
	}
	if version != fileVersion {
		return fmt.Errorf("unsupported index file version %d", version)
	}
	if int(dim) != x.dimension {
		return fmt.Errorf("index dimension mismatch: file has %d, expected %d", dim, x.dimension)
	}

	remaining := info.Size() - headerSize
	vecSize := int64(dim) * 4
	if int64(n)*(4+vecSize) > remaining {
		return fmt.Errorf("index file truncated: %d vectors do not fit in %d bytes", n, remaining)
	}
	gen := &generation{
		number:    number,
		dimension: int(dim),
		builtAt:   time.Unix(0, builtAt),
		watermark: watermark,
		ids:       make([]string, 0, n),
		vectors:   make([][]float32, 0, n),
	}
	buf := make([]byte, vecSize)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		remaining -= 4 + vecSize
		if int64(idLen) > remaining {
			return fmt.Errorf("index file truncated: id of %d bytes at vector %d", idLen, i)
		}
		remaining -= int64(idLen)
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		gen.ids = append(gen.ids, string(idBytes))
		gen.vectors = append(gen.vectors, DecodeFloat32s(buf))
	}

	x.buildMu.Lock()
	x.current.Store(gen)
	x.buildMu.Unlock()
	return nil
}

// EncodeFloat32s packs v as little-endian IEEE 754 float32 values.
func EncodeFloat32s(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// DecodeFloat32s is the inverse of EncodeFloat32s. Trailing bytes that do not form a
// whole float32 are ignored.
func DecodeFloat32s(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
