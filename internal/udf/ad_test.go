package udf

import "testing"

func TestEncodeDecodeExtLengthRoundTrip(t *testing.T) {
	raw := EncodeExtLength(12345, ExtAllocatedNotRecorded)
	length, extType := DecodeExtLength(raw)
	if length != 12345 || extType != ExtAllocatedNotRecorded {
		t.Fatalf("got length=%d type=%d, want length=12345 type=%d", length, extType, ExtAllocatedNotRecorded)
	}
}

func TestIsTerminator(t *testing.T) {
	if !IsTerminator(EncodeExtLength(0, ExtNotAllocated)) {
		t.Fatalf("expected zero-length extent to be a terminator")
	}
	if IsTerminator(EncodeExtLength(1, ExtRecorded)) {
		t.Fatalf("expected nonzero-length extent not to be a terminator")
	}
}

func TestShortADToExtent(t *testing.T) {
	ad := ShortAD{ExtLength: EncodeExtLength(2048, ExtRecorded), ExtPosition: 99}
	e := ad.ToExtent()
	if e.Length != 2048 || e.Type != ExtRecorded || e.LBN != 99 {
		t.Fatalf("unexpected extent from ShortAD: %+v", e)
	}
}

func TestLongADToExtent(t *testing.T) {
	ad := LongAD{ExtLength: EncodeExtLength(4096, ExtNextExtent), ExtLocationLBN: 7, PartitionRefNum: 1}
	e := ad.ToExtent()
	if e.Length != 4096 || e.Type != ExtNextExtent || e.LBN != 7 || e.PartRef != 1 {
		t.Fatalf("unexpected extent from LongAD: %+v", e)
	}
}
