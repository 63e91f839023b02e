package udf

// ExtentAD is the ECMA-167 7.1 extent descriptor: a plain (length,location)
// pair used to point at fixed extents such as a VDS or integrity sequence.
type ExtentAD struct {
	Length   uint32
	Location uint32
}

// AVDP is the Anchor Volume Descriptor Pointer (ECMA-167 3/10.2).
type AVDP struct {
	Tag        Tag
	MainVDS    ExtentAD
	ReserveVDS ExtentAD
}

// PVD is the Primary Volume Descriptor (ECMA-167 3/10.1).
type PVD struct {
	Tag                     Tag
	VDSNum                  uint32
	PrimaryVolDescNum       uint32
	VolIdent                [32]byte // dstring
	VolSeqNum               uint16
	MaxVolSeqNum            uint16
	InterchangeLevel        uint16
	MaxInterchangeLevel     uint16
	CharSetList             uint32
	MaxCharSetList          uint32
	VolSetIdent             [128]byte // dstring
	DescCharSet             [64]byte
	ExplanatoryCharSet      [64]byte
	VolAbstract             ExtentAD
	VolCopyrightNotice      ExtentAD
	ApplicationIdent        [32]byte
	RecordingDateAndTime    Timestamp
	ImplementationIdent     [32]byte
	ImplementationUse       [64]byte
	PredecessorVDSLocation  uint32
	Flags                   uint16
	_                       [22]byte // reserved
}

// PartitionHeaderDesc describes the optional space tables inside a PD
// (ECMA-167 4/14.3).
type PartitionHeaderDesc struct {
	UnallocatedSpaceTable   ExtentAD
	UnallocatedSpaceBitmap  ExtentAD
	PartitionIntegrityTable ExtentAD
	FreedSpaceTable         ExtentAD
	FreedSpaceBitmap        ExtentAD
	_                       [88]byte // reserved
}

// PD is the Partition Descriptor (ECMA-167 3/10.5).
type PD struct {
	Tag                        Tag
	VDSNum                     uint32
	PartitionFlags             uint16
	PartitionNumber            uint16
	PartitionContents          [32]byte
	PartitionContentsUse       PartitionHeaderDesc
	AccessType                 uint32
	PartitionStartingLocation  uint32
	PartitionLength            uint32
	ImplementationIdent        [32]byte
	ImplementationUse          [128]byte
	_                          [156]byte // reserved
}

// PD access types (ECMA-167 4/14.3.5).
const (
	PDAccessRead           = 1
	PDAccessWriteOnce      = 2
	PDAccessRewritable     = 3
	PDAccessOverwritable   = 4
)

// LongAD is the ECMA-167 4/14.14.2 long allocation descriptor: used by FSD
// fields like rootDirectoryICB and by long-AD encoded FE extent lists.
type LongAD struct {
	ExtLength     uint32
	ExtLocationLBN uint32
	PartitionRefNum uint16
	ImplUse       [6]byte
}

// ShortAD is the ECMA-167 4/14.14.1 short allocation descriptor.
type ShortAD struct {
	ExtLength     uint32
	ExtPosition   uint32
}

// LVD is the Logical Volume Descriptor (ECMA-167 3/10.6). The trailing
// partition map table is variable-length and read separately.
type LVD struct {
	Tag                     Tag
	VDSNum                  uint32
	DescCharSet             [64]byte
	LogicalVolIdent         [128]byte // dstring
	LogicalBlockSize        uint32
	DomainIdent             [32]byte
	LogicalVolContentsUse   LongAD
	MapTableLength          uint32
	NumPartitionMaps        uint32
	ImplementationIdent     [32]byte
	ImplementationUse       [128]byte
	IntegritySeqExt         ExtentAD
	// PartitionMaps []byte follows, MapTableLength bytes, read via map_raw.
}

// USD is the Unallocated Space Descriptor (ECMA-167 3/10.8). The trailing
// allocation-descriptor list is variable-length.
type USD struct {
	Tag                 Tag
	VDSNum              uint32
	NumAllocDescs       uint32
	// AllocDescs []ExtentAD follows, NumAllocDescs entries, read via map_raw.
}

// IUVD is the Implementation Use Volume Descriptor (ECMA-167 3/10.4).
type IUVD struct {
	Tag                 Tag
	VDSNum              uint32
	ImplementationIdent [32]byte
	ImplementationUse   [460]byte
}

// TD is the Terminating Descriptor (ECMA-167 3/10.9 and 4/14.2).
type TD struct {
	Tag Tag
	_   [496]byte // reserved
}

// LVIDImplUse is the implementation-use portion at the tail of an LVID,
// beyond the per-partition free-space/size tables (ECMA-167 3/10.10.1).
type LVIDImplUse struct {
	ImplementationIdent [32]byte
	NumFiles            uint32
	NumDirs             uint32
	MinUDFReadRev       uint16
	MinUDFWriteRev      uint16
	MaxUDFWriteRev      uint16
}

// LVID is the Logical Volume Integrity Descriptor (ECMA-167 3/10.10). The
// free-space and size tables, plus the implementation-use tail, are
// variable-length (sized by NumPartitions) and read separately.
type LVID struct {
	Tag                  Tag
	RecordingDateAndTime Timestamp
	IntegrityType        uint32
	NextIntegrityExt     ExtentAD
	LogicalVolContentsUse [32]byte
	NumPartitions        uint32
	ImplementationUseLen uint32
	// FreeSpaceTable []uint32, NumPartitions entries
	// SizeTable      []uint32, NumPartitions entries
	// ImplementationUse []byte, ImplementationUseLen bytes (LVIDImplUse)
}

// FSD is the File Set Descriptor (ECMA-167 4/14.1).
type FSD struct {
	Tag                       Tag
	RecordingDateAndTime      Timestamp
	InterchangeLevel          uint16
	MaxInterchangeLevel       uint16
	CharSetList               uint32
	MaxCharSetList            uint32
	FileSetNum                uint32
	FileSetDescNum            uint32
	LogicalVolIdentCharSet    [64]byte
	LogicalVolIdent           [128]byte // dstring
	FileSetCharSet            [64]byte
	FileSetIdent              [32]byte // dstring
	CopyrightFileIdent        [32]byte
	AbstractFileIdent         [32]byte
	RootDirectoryICB          LongAD
	DomainIdent               [32]byte
	NextExt                   LongAD
	StreamDirectoryICB        LongAD
	_                         [32]byte // reserved
}

// SBD is the Space Bitmap Descriptor (ECMA-167 4/14.12). The bitmap itself
// is variable-length (NumOfBytes bytes) and read separately via map_raw.
type SBD struct {
	Tag        Tag
	NumOfBits  uint32
	NumOfBytes uint32
	// Bitmap []byte follows, NumOfBytes bytes. 1 = free, 0 = used.
}
