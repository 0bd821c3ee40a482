package volume

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

const (
	BOOT_SECTOR_SIZE  = 512
	BOOT_SECTOR_MAGIC = 0xaa55
)

var (
	NTFS_OEM_ID = []byte("NTFS    ")
)

// BootSector holds the fields of the NTFS boot sector needed to
// locate the MFT.
type BootSector struct {
	OemId             string
	SectorSize        uint16
	SectorsPerCluster uint8
	VolumeSectors     uint64
	MftCluster        uint64
	MftMirrCluster    uint64
	RawRecordSize     int8
	RawIndexSize      int8
	Serial            uint64
	Magic             uint16
}

func ParseBootSector(buf []byte) (*BootSector, error) {
	if len(buf) < BOOT_SECTOR_SIZE {
		return nil, errors.Errorf("boot sector too short (%d bytes)", len(buf))
	}

	return &BootSector{
		OemId:             string(buf[3:11]),
		SectorSize:        binary.LittleEndian.Uint16(buf[0x0b:]),
		SectorsPerCluster: buf[0x0d],
		VolumeSectors:     binary.LittleEndian.Uint64(buf[0x28:]),
		MftCluster:        binary.LittleEndian.Uint64(buf[0x30:]),
		MftMirrCluster:    binary.LittleEndian.Uint64(buf[0x38:]),
		RawRecordSize:     int8(buf[0x40]),
		RawIndexSize:      int8(buf[0x44]),
		Serial:            binary.LittleEndian.Uint64(buf[0x48:]),
		Magic:             binary.LittleEndian.Uint16(buf[0x1fe:]),
	}, nil
}

func (self *BootSector) ClusterSize() int64 {
	// Large clusters are stored as a negative shift.
	if self.SectorsPerCluster > 0x80 {
		return int64(self.SectorSize) << uint(256-int(self.SectorsPerCluster))
	}
	return int64(self.SectorsPerCluster) * int64(self.SectorSize)
}

func (self *BootSector) BlockCount() int64 {
	cluster_size := self.ClusterSize()
	if cluster_size == 0 {
		return 0
	}
	return int64(self.VolumeSectors) * int64(self.SectorSize) / cluster_size
}

// RecordSize is in clusters when positive, otherwise 2^-n bytes.
func (self *BootSector) RecordSize() int64 {
	return self.sizeOf(self.RawRecordSize)
}

func (self *BootSector) IndexSize() int64 {
	return self.sizeOf(self.RawIndexSize)
}

func (self *BootSector) sizeOf(raw int8) int64 {
	if raw > 0 {
		return int64(raw) * self.ClusterSize()
	}
	return 1 << uint32(-int64(raw))
}

func (self *BootSector) IsValid() error {
	if self.Magic != BOOT_SECTOR_MAGIC {
		return errors.New("Invalid magic")
	}

	if !bytes.Equal([]byte(self.OemId), NTFS_OEM_ID) {
		return errors.Errorf("Not an NTFS volume (%q)", self.OemId)
	}

	if self.SectorSize == 0 || self.SectorSize%256 != 0 {
		return errors.Errorf("Invalid sector_size %d", self.SectorSize)
	}

	switch self.ClusterSize() {
	case 0x100, 0x200, 0x400, 0x800, 0x1000, 0x2000, 0x4000, 0x8000,
		0x10000, 0x20000, 0x40000, 0x80000, 0x100000, 0x200000:
	default:
		return errors.Errorf("Invalid cluster size %x", self.ClusterSize())
	}

	if self.BlockCount() == 0 {
		return errors.New("Volume size is 0")
	}

	return nil
}

// Geometry converts the boot sector to a validated VolumeGeometry.
func (self *BootSector) Geometry() (parser.VolumeGeometry, error) {
	err := self.IsValid()
	if err != nil {
		return parser.VolumeGeometry{}, err
	}

	cluster_size := self.ClusterSize()
	geometry := parser.VolumeGeometry{
		BytesPerSector:  int64(self.SectorSize),
		BytesPerCluster: cluster_size,
		MftStartCluster: int64(self.MftCluster),
		MftRecordSize:   self.RecordSize(),
	}

	index_size := self.IndexSize()
	if index_size >= cluster_size {
		geometry.ClustersPerIndexBlock = index_size / cluster_size
	} else {
		geometry.ClustersPerIndexBlock = 1
	}

	err = geometry.Validate()
	if err != nil {
		return parser.VolumeGeometry{}, err
	}

	return geometry, nil
}

// GeometryFromBootSector reads the boot sector at the start of the
// volume.
func GeometryFromBootSector(reader io.ReaderAt) (parser.VolumeGeometry, error) {
	buf := make([]byte, BOOT_SECTOR_SIZE)
	n, err := reader.ReadAt(buf, 0)
	if n < BOOT_SECTOR_SIZE {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return parser.VolumeGeometry{}, errors.Wrap(err, "GeometryFromBootSector")
	}

	boot, err := ParseBootSector(buf)
	if err != nil {
		return parser.VolumeGeometry{}, err
	}

	return boot.Geometry()
}

// EncodeBootSector builds a minimal boot sector for geometry. Used to
// build test images.
func EncodeBootSector(geometry parser.VolumeGeometry, volume_size int64) []byte {
	buf := make([]byte, BOOT_SECTOR_SIZE)
	copy(buf[3:], NTFS_OEM_ID)
	binary.LittleEndian.PutUint16(buf[0x0b:], uint16(geometry.BytesPerSector))
	buf[0x0d] = uint8(geometry.BytesPerCluster / geometry.BytesPerSector)
	binary.LittleEndian.PutUint64(buf[0x28:],
		uint64(volume_size/geometry.BytesPerSector))
	binary.LittleEndian.PutUint64(buf[0x30:], uint64(geometry.MftStartCluster))
	binary.LittleEndian.PutUint64(buf[0x38:], uint64(geometry.MftStartCluster))

	record := int8(0)
	for size := geometry.MftRecordSize; size > 1; size >>= 1 {
		record--
	}
	buf[0x40] = uint8(record)
	buf[0x44] = uint8(geometry.ClustersPerIndexBlock)
	binary.LittleEndian.PutUint16(buf[0x1fe:], BOOT_SECTOR_MAGIC)
	return buf
}
