package fsck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/udfsck/udfsck/internal/udf"
)

func TestCheckSerialConsistencyAgrees(t *testing.T) {
	cands := []avdpCandidate{
		{avdp: udf.AVDP{Tag: udf.Tag{SerialNum: 5}}},
		{avdp: udf.AVDP{Tag: udf.Tag{SerialNum: 5}}},
	}
	serial, ok := checkSerialConsistency(cands)
	assert.True(t, ok)
	assert.EqualValues(t, 5, serial)
}

func TestCheckSerialConsistencyDisagrees(t *testing.T) {
	cands := []avdpCandidate{
		{avdp: udf.AVDP{Tag: udf.Tag{SerialNum: 5}}},
		{avdp: udf.AVDP{Tag: udf.Tag{SerialNum: 6}}},
	}
	_, ok := checkSerialConsistency(cands)
	assert.False(t, ok)
}

func TestCheckSerialConsistencyEmpty(t *testing.T) {
	_, ok := checkSerialConsistency(nil)
	assert.False(t, ok)
}
