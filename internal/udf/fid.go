package udf

import "encoding/binary"

// FIDFixedSize is the size of an FID's fixed header (ECMA-167 4/14.4),
// before the variable-length ImplementationUse and FileIdent fields: 38
// bytes covers Tag(16) + FileVersionNum(2) + FileCharacteristics(1) +
// LengthFileIdent(1) + ICB(16) + LengthOfImplUse(2).
const FIDFixedSize = 38

// FID is the fixed portion of a File Identifier Descriptor, a single
// directory entry (ECMA-167 4/14.4).
type FID struct {
	Tag                 Tag
	FileVersionNum      uint16
	FileCharacteristics uint8
	LengthFileIdent     uint8
	ICB                 LongAD
	LengthOfImplUse     uint16
	// ImplUse  []byte, LengthOfImplUse bytes
	// FileIdent []byte (dstring), LengthFileIdent bytes
	// padding to a multiple of 4
}

// FIDRecordLength returns the FID's on-disk length including padding:
// 38 + lengthOfImpUse + lengthFileIdent, rounded up to a multiple of 4.
func FIDRecordLength(lengthOfImplUse, lengthFileIdent int) int {
	n := FIDFixedSize + lengthOfImplUse + lengthFileIdent
	return (n + 3) &^ 3
}

// IsHidden, IsDirectory, IsDeleted, IsParent, IsMetadata report the
// FileCharacteristics bits of f.
func (f FID) IsHidden() bool    { return f.FileCharacteristics&FIDCharHidden != 0 }
func (f FID) IsDirectory() bool { return f.FileCharacteristics&FIDCharDirectory != 0 }
func (f FID) IsDeleted() bool   { return f.FileCharacteristics&FIDCharDeleted != 0 }
func (f FID) IsParent() bool    { return f.FileCharacteristics&FIDCharParent != 0 }
func (f FID) IsMetadata() bool  { return f.FileCharacteristics&FIDCharMetadata != 0 }

// FIDUniqueID extracts the 32-bit unique ID embedded at offset 2..6 of a
// long_ad's ImplUse field, as written by the FID's owning directory entry
//.
func FIDUniqueID(icb LongAD) uint32 {
	return binary.LittleEndian.Uint32(icb.ImplUse[2:6])
}

// SetFIDUniqueID stores uuid into the long_ad's ImplUse field at the same
// offset FIDUniqueID reads from.
func SetFIDUniqueID(icb *LongAD, uuid uint32) {
	binary.LittleEndian.PutUint32(icb.ImplUse[2:6], uuid)
}
