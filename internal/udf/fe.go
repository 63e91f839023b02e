package udf

// ICBTag is the ECMA-167 4/14.6 ICB tag embedded at the start of every
// FE/EFE, carrying the file type and the allocation-descriptor encoding used
// by the rest of the entry.
type ICBTag struct {
	PriorRecordedNumDirectEntries uint32
	StrategyType                  uint16
	StrategyParameter             uint16
	MaxNumEntries                 uint16
	_                             uint8 // reserved
	FileType                      uint8
	ParentICBLocation             LongAD
	Flags                         uint16
}

// ADKind returns the allocation-descriptor encoding named by the low 3 bits
// of Flags.
func (t ICBTag) ADKind() int {
	return int(t.Flags & 0x7)
}

// FE is the File Entry fixed header (ECMA-167 4/14.9). The extended
// attributes and allocation descriptors that follow are variable-length
// (LengthExtendedAttr + LengthAllocDescs bytes) and read separately.
type FE struct {
	Tag                   Tag
	ICBTag                ICBTag
	UID                   uint32
	GID                   uint32
	Permissions           uint32
	FileLinkCount         uint16
	RecordFormat          uint8
	RecordDisplayAttrs    uint8
	RecordLength          uint32
	InformationLength     uint64
	LogicalBlocksRecorded uint64
	AccessTime            Timestamp
	ModificationTime      Timestamp
	AttributeTime         Timestamp
	Checkpoint            uint32
	ExtendedAttrICB       LongAD
	ImplementationIdent   [32]byte
	UniqueID              uint64
	LengthExtendedAttr    uint32
	LengthAllocDescs      uint32
	// ExtendedAttrAndAllocDescs []byte follows.
}

// EFE is the Extended File Entry fixed header (ECMA-167 4/14.17), used from
// UDF revision 2.00 onward in place of a plain FE. Presence of an EFE raises
// the run's minimum UDF read revision to 0x0200.
type EFE struct {
	Tag                   Tag
	ICBTag                ICBTag
	UID                   uint32
	GID                   uint32
	Permissions           uint32
	FileLinkCount         uint16
	RecordFormat          uint8
	RecordDisplayAttrs    uint8
	RecordLength          uint32
	InformationLength     uint64
	ObjectSize            uint64
	LogicalBlocksRecorded uint64
	AccessTime            Timestamp
	ModificationTime      Timestamp
	CreationTime          Timestamp
	AttributeTime         Timestamp
	Checkpoint            uint32
	_                     uint32 // reserved
	ExtendedAttrICB       LongAD
	StreamDirectoryICB    LongAD
	ImplementationIdent   [32]byte
	UniqueID              uint64
	LengthExtendedAttr    uint32
	LengthAllocDescs      uint32
	// ExtendedAttrAndAllocDescs []byte follows.
}

// IsDirectory reports whether the ICB tag's file type is a directory.
func (t ICBTag) IsDirectory() bool {
	return t.FileType == FileTypeDirectory
}

// IsRegular reports whether the ICB tag's file type is a regular file.
func (t ICBTag) IsRegular() bool {
	return t.FileType == FileTypeRegular
}

// IsSymlink reports whether the ICB tag's file type is a symbolic link.
func (t ICBTag) IsSymlink() bool {
	return t.FileType == FileTypeSymlink
}

// AED is the Allocation Extent Descriptor (ECMA-167 4/14.5), a continuation
// block for allocation-descriptor lists too long to fit inline in an FE/EFE.
type AED struct {
	Tag              Tag
	PriorRecordedNum uint32
	LengthAllocDescs uint32
	// AllocDescs []byte follows, LengthAllocDescs bytes.
}
