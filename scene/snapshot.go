package scene

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Snapshot persistence stores the raw entity set only. The spatial index is
// rebuilt on load: bulk loading is O(n log n), so serializing tree nodes
// would be dead weight.

const snapshotVersion uint32 = 1

// SaveCompressed writes the entity set to a zstd-compressed binary file.
func SaveCompressed(filename string, entities []Entity) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %v", err)
	}

	binary.Write(enc, binary.LittleEndian, snapshotVersion)
	binary.Write(enc, binary.LittleEndian, uint32(len(entities)))

	for _, e := range entities {
		binary.Write(enc, binary.LittleEndian, e.ID)
		binary.Write(enc, binary.LittleEndian, e.X)
		binary.Write(enc, binary.LittleEndian, e.Y)
		binary.Write(enc, binary.LittleEndian, e.Level)
		binary.Write(enc, binary.LittleEndian, uint8(e.Kind))
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %v", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %v", err)
	}
	return nil
}

// LoadCompressedSnapshot reads an entity set written by SaveCompressed.
func LoadCompressedSnapshot(filename string) ([]Entity, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	bufReader := bufio.NewReaderSize(file, 1024*1024)
	dec, err := zstd.NewReader(bufReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer dec.Close()

	var version, count uint32
	if err := binary.Read(dec, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %v", err)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", version)
	}
	if err := binary.Read(dec, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read entity count: %v", err)
	}

	entities := make([]Entity, count)
	for i := range entities {
		var kind uint8
		binary.Read(dec, binary.LittleEndian, &entities[i].ID)
		binary.Read(dec, binary.LittleEndian, &entities[i].X)
		binary.Read(dec, binary.LittleEndian, &entities[i].Y)
		binary.Read(dec, binary.LittleEndian, &entities[i].Level)
		if err := binary.Read(dec, binary.LittleEndian, &kind); err != nil {
			return nil, fmt.Errorf("failed to read entity %d: %v", i, err)
		}
		entities[i].Kind = EntityKind(kind)
	}
	return entities, nil
}
