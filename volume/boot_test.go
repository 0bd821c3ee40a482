package volume

import (
	"bytes"
	"testing"

	"github.com/alecthomas/assert"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

func TestGeometryFromBootSector(t *testing.T) {
	geometry := parser.DefaultGeometry()
	geometry.MftStartCluster = 4

	buf := EncodeBootSector(geometry, 1<<20)
	got, err := GeometryFromBootSector(bytes.NewReader(buf))
	assert.NoError(t, err)
	assert.Equal(t, got, geometry)
}

func TestBootSectorLargeRecords(t *testing.T) {
	geometry := parser.VolumeGeometry{
		BytesPerSector:        4096,
		BytesPerCluster:       4096,
		MftStartCluster:       2,
		MftRecordSize:         4096,
		ClustersPerIndexBlock: 1,
	}

	buf := EncodeBootSector(geometry, 1<<24)
	boot, err := ParseBootSector(buf)
	assert.NoError(t, err)
	assert.Equal(t, boot.RecordSize(), int64(4096))
	assert.Equal(t, boot.BlockCount(), int64(4096))

	got, err := boot.Geometry()
	assert.NoError(t, err)
	assert.Equal(t, got, geometry)
}

func TestBootSectorInvalid(t *testing.T) {
	buf := EncodeBootSector(parser.DefaultGeometry(), 1<<20)

	// Bad magic
	bad := append([]byte{}, buf...)
	bad[0x1fe] = 0
	_, err := GeometryFromBootSector(bytes.NewReader(bad))
	assert.Error(t, err)

	// Not NTFS
	bad = append([]byte{}, buf...)
	copy(bad[3:], "FAT32   ")
	_, err = GeometryFromBootSector(bytes.NewReader(bad))
	assert.Error(t, err)

	// Short read
	_, err = GeometryFromBootSector(bytes.NewReader(buf[:100]))
	assert.Error(t, err)

	// A record size which is not a multiple of the sector size.
	bad = append([]byte{}, buf...)
	bad[0x40] = uint8(0xf8) // -8 -> 256 bytes
	_, err = GeometryFromBootSector(bytes.NewReader(bad))
	assert.Error(t, err)
	assert.True(t, parser.IsGeometryError(err))
}
