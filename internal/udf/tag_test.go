package udf

import "testing"

func TestTagChecksumRoundTrip(t *testing.T) {
	tag := Tag{Ident: TagIdentAVDP, Version: 2, SerialNum: 1, TagLocation: 256}
	tag.Checksum = tag.CalculateChecksum()

	if !tag.ChecksumValid() {
		t.Fatalf("freshly stamped checksum did not validate")
	}

	tag.Checksum ^= 0xFF
	if tag.ChecksumValid() {
		t.Fatalf("corrupted checksum validated")
	}
}

func TestTagPositionValid(t *testing.T) {
	tag := Tag{TagLocation: 512}
	if !tag.PositionValid(512) {
		t.Fatalf("expected tagLocation 512 to validate at lsn 512")
	}
	if tag.PositionValid(513) {
		t.Fatalf("expected tagLocation 512 to fail validation at lsn 513")
	}
}

func TestVerifyDescriptorWrongIdent(t *testing.T) {
	tag := Tag{Ident: TagIdentPVD}
	mask := VerifyDescriptor(tag, make([]byte, 32), 0, TagIdentAVDP)
	if mask&EWrongDesc == 0 {
		t.Fatalf("expected EWrongDesc for mismatched ident")
	}
}

func TestVerifyDescriptorRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps")
	tag := Tag{Ident: TagIdentPVD, DescCRCLen: uint16(len(payload))}
	tag.DescCRC = CRC16(payload)
	tag.Checksum = tag.CalculateChecksum()

	body := append(tag.bytes(), payload...)
	mask := VerifyDescriptor(tag, body, 0, TagIdentPVD)
	if mask != 0 {
		t.Fatalf("expected no errors, got mask %v", mask)
	}
}

func TestRebuildTag(t *testing.T) {
	payload := []byte("rebuilt body")
	tag := Tag{Ident: TagIdentFID, SerialNum: 7}
	newTag := RebuildTag(tag, payload, 42)

	if newTag.TagLocation != 42 {
		t.Fatalf("expected tagLocation 42, got %d", newTag.TagLocation)
	}
	if newTag.DescCRC != CRC16(payload) {
		t.Fatalf("rebuilt CRC does not match payload")
	}
	if !newTag.ChecksumValid() {
		t.Fatalf("rebuilt tag checksum did not validate")
	}
}
