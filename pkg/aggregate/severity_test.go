package aggregate

import (
	"math"
	"testing"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		score  float64
		single Severity
		dual   Severity
	}{
		{score: 0, single: Bad, dual: Bad},
		{score: 0.29, single: Bad, dual: Bad},
		{score: 0.3, single: Moderate, dual: Moderate},
		{score: 0.69, single: Moderate, dual: Moderate},
		{score: 0.7, single: Neutral, dual: Neutral},
		{score: 0.9, single: Neutral, dual: Neutral},
		{score: 0.91, single: Neutral, dual: Good},
		{score: 1, single: Neutral, dual: Good},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.single, SingleModeBands.Classify(tt.score), "single %v", tt.score)
		assert.Equal(t, tt.dual, DualModeBands.Classify(tt.score), "dual %v", tt.score)
	}
}

func TestClassifyValue(t *testing.T) {
	assert.Equal(t, Neutral, DualModeBands.ClassifyValue(audit.Value{}))
	assert.Equal(t, Bad, DualModeBands.ClassifyValue(audit.Value{Score: null.FloatFrom(0)}))
	assert.Equal(t, Good, DualModeBands.ClassifyValue(audit.Value{Score: null.FloatFrom(0.95)}))
}

func TestClassifyPercent(t *testing.T) {
	assert.Equal(t, Neutral, DualModeBands.ClassifyPercent(math.NaN()))
	assert.Equal(t, Bad, DualModeBands.ClassifyPercent(29))
	assert.Equal(t, Moderate, DualModeBands.ClassifyPercent(69))
	assert.Equal(t, Good, DualModeBands.ClassifyPercent(100))
	assert.Equal(t, Neutral, SingleModeBands.ClassifyPercent(100))
}

func TestBandsByName(t *testing.T) {
	b, err := BandsByName("single")
	require.NoError(t, err)
	assert.Equal(t, SingleModeBands, b)

	b, err = BandsByName("")
	require.NoError(t, err)
	assert.Equal(t, DualModeBands, b)

	_, err = BandsByName("traffic-light")
	assert.Error(t, err)
}
