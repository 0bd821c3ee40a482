package parser

import "fmt"

const (
	// Fixups are always applied over 512 byte strides regardless of
	// the sector size of the device.
	FIXUP_STRIDE = 512

	MAX_MFT_ENTRY_SIZE = 0x10000
)

// VolumeGeometry describes the NTFS layout of a volume. It is
// discovered from the boot sector by the image layer (see
// volume.GeometryFromBootSector) and handed to the parsers.
type VolumeGeometry struct {
	BytesPerSector        int64 `json:"bytes_per_sector" yaml:"bytes_per_sector"`
	BytesPerCluster       int64 `json:"bytes_per_cluster" yaml:"bytes_per_cluster"`
	MftStartCluster       int64 `json:"mft_start_cluster" yaml:"mft_start_cluster"`
	MftRecordSize         int64 `json:"mft_record_size" yaml:"mft_record_size"`
	ClustersPerIndexBlock int64 `json:"clusters_per_index_block" yaml:"clusters_per_index_block"`
}

// The geometry most volumes are formatted with.
func DefaultGeometry() VolumeGeometry {
	return VolumeGeometry{
		BytesPerSector:        512,
		BytesPerCluster:       4096,
		MftStartCluster:       0,
		MftRecordSize:         1024,
		ClustersPerIndexBlock: 1,
	}
}

func isPowerOfTwo(v int64) bool {
	return v > 0 && v&(v-1) == 0
}

// Validate checks the geometry is internally consistent. Any failure
// is a GeometryError.
func (self VolumeGeometry) Validate() error {
	if !isPowerOfTwo(self.BytesPerSector) || self.BytesPerSector < 256 ||
		self.BytesPerSector > 4096 {
		return &GeometryError{Field: "BytesPerSector",
			Reason: fmt.Sprintf("%d is not a supported sector size",
				self.BytesPerSector)}
	}

	if !isPowerOfTwo(self.BytesPerCluster) ||
		self.BytesPerCluster%self.BytesPerSector != 0 {
		return &GeometryError{Field: "BytesPerCluster",
			Reason: fmt.Sprintf("%d is not a power of two multiple of the sector size %d",
				self.BytesPerCluster, self.BytesPerSector)}
	}

	if self.MftStartCluster < 0 {
		return &GeometryError{Field: "MftStartCluster",
			Reason: fmt.Sprintf("%d is negative", self.MftStartCluster)}
	}

	if self.MftRecordSize <= 0 || self.MftRecordSize > MAX_MFT_ENTRY_SIZE ||
		self.MftRecordSize%self.BytesPerSector != 0 ||
		!isPowerOfTwo(self.MftRecordSize) {
		return &GeometryError{Field: "MftRecordSize",
			Reason: fmt.Sprintf("%d is not a multiple of the sector size %d",
				self.MftRecordSize, self.BytesPerSector)}
	}

	if self.ClustersPerIndexBlock < 0 {
		return &GeometryError{Field: "ClustersPerIndexBlock",
			Reason: fmt.Sprintf("%d is negative", self.ClustersPerIndexBlock)}
	}

	return nil
}

func (self VolumeGeometry) MftOffset() int64 {
	return self.MftStartCluster * self.BytesPerCluster
}
