package udf

import "testing"

func TestFIDRecordLengthPadding(t *testing.T) {
	cases := []struct {
		implUse, ident, want int
	}{
		{0, 0, 40}, // 38 rounds up to 40
		{0, 2, 40},
		{0, 3, 44},
		{4, 5, 48},
	}
	for _, c := range cases {
		if got := FIDRecordLength(c.implUse, c.ident); got != c.want {
			t.Fatalf("FIDRecordLength(%d, %d) = %d, want %d", c.implUse, c.ident, got, c.want)
		}
	}
}

func TestFIDCharacteristics(t *testing.T) {
	f := FID{FileCharacteristics: FIDCharDirectory | FIDCharHidden}
	if !f.IsDirectory() || !f.IsHidden() {
		t.Fatalf("expected directory+hidden bits to be set")
	}
	if f.IsDeleted() || f.IsParent() || f.IsMetadata() {
		t.Fatalf("unexpected characteristic bit set")
	}
}

func TestFIDUniqueIDRoundTrip(t *testing.T) {
	var icb LongAD
	SetFIDUniqueID(&icb, 0xDEADBEEF)
	if got := FIDUniqueID(icb); got != 0xDEADBEEF {
		t.Fatalf("FIDUniqueID round trip = 0x%X, want 0xDEADBEEF", got)
	}
}
