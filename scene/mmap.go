package scene

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
)

// MMapWriter handles writing to memory-mapped files
type MMapWriter struct {
	data   mmap.MMap
	offset int
}

func NewMMapWriter(data mmap.MMap) *MMapWriter {
	return &MMapWriter{data: data}
}

func (w *MMapWriter) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], v)
	w.offset += 4
}

func (w *MMapWriter) WriteInt32(v int32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], uint32(v))
	w.offset += 4
}

func (w *MMapWriter) WriteFloat32(v float32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], math.Float32bits(v))
	w.offset += 4
}

func (w *MMapWriter) WriteUint8(v byte) {
	w.data[w.offset] = v
	w.offset++
}

// MMapReader handles reading from memory-mapped files
type MMapReader struct {
	data   mmap.MMap
	offset int
}

func NewMMapReader(data mmap.MMap) *MMapReader {
	return &MMapReader{data: data}
}

func (r *MMapReader) ReadUint32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v
}

func (r *MMapReader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

func (r *MMapReader) ReadFloat32() float32 {
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return math.Float32frombits(v)
}

func (r *MMapReader) ReadUint8() byte {
	v := r.data[r.offset]
	r.offset++
	return v
}

// snapshotSize is the total byte size needed to map an entity-set snapshot.
func snapshotSize(entities []Entity) int64 {
	// Header: version + count.
	size := int64(8)
	// Per entity: ID, X, Y, Level, Kind.
	size += int64(len(entities)) * 17
	return size
}

// SaveMMap writes the entity set through a memory-mapped file.
func SaveMMap(filename string, entities []Entity) error {
	size := snapshotSize(entities)

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate file: %v", err)
	}

	mmapData, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %v", err)
	}
	defer mmapData.Unmap()

	writer := NewMMapWriter(mmapData)
	writer.WriteUint32(snapshotVersion)
	writer.WriteUint32(uint32(len(entities)))
	for _, e := range entities {
		writer.WriteUint32(e.ID)
		writer.WriteFloat32(e.X)
		writer.WriteFloat32(e.Y)
		writer.WriteInt32(e.Level)
		writer.WriteUint8(byte(e.Kind))
	}

	return mmapData.Flush()
}

// LoadMMapSnapshot reads an entity set written by SaveMMap.
func LoadMMapSnapshot(filename string) ([]Entity, error) {
	file, err := os.OpenFile(filename, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	mmapData, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %v", err)
	}
	defer mmapData.Unmap()

	reader := NewMMapReader(mmapData)
	version := reader.ReadUint32()
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", version)
	}
	count := reader.ReadUint32()
	if int64(8+count*17) > int64(len(mmapData)) {
		return nil, fmt.Errorf("snapshot truncated: %d entities do not fit in %d bytes", count, len(mmapData))
	}

	entities := make([]Entity, count)
	for i := range entities {
		entities[i].ID = reader.ReadUint32()
		entities[i].X = reader.ReadFloat32()
		entities[i].Y = reader.ReadFloat32()
		entities[i].Level = reader.ReadInt32()
		entities[i].Kind = EntityKind(reader.ReadUint8())
	}
	return entities, nil
}

// SaveCompressedMMap writes through a temporary mmap file, then compresses it.
func SaveCompressedMMap(filename string, entities []Entity) error {
	tempFile := filename + ".tmp"
	if err := SaveMMap(tempFile, entities); err != nil {
		return fmt.Errorf("failed to save mmap: %v", err)
	}
	defer os.Remove(tempFile)

	src, err := os.Open(tempFile)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %v", err)
	}
	defer src.Close()

	dst, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create compressed file: %v", err)
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %v", err)
	}

	if _, err = io.Copy(enc, src); err != nil {
		enc.Close()
		return fmt.Errorf("failed to compress data: %v", err)
	}
	return enc.Close()
}

// LoadCompressedMMap decompresses into a temporary file and loads it via mmap.
func LoadCompressedMMap(filename string) ([]Entity, error) {
	tempFile := filename + ".tmp"
	dst, err := os.Create(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %v", err)
	}
	defer os.Remove(tempFile)
	defer dst.Close()

	src, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed file: %v", err)
	}
	defer src.Close()

	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer dec.Close()

	if _, err := io.Copy(dst, dec); err != nil {
		return nil, fmt.Errorf("failed to decompress data: %v", err)
	}
	if err := dst.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync temp file: %v", err)
	}

	return LoadMMapSnapshot(tempFile)
}
