package focus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreIdleBucketIsZeroAPM(t *testing.T) {
	m := Score(0, 0, 0)
	assert.Equal(t, 0, m.APM)
	// zero apm -> apm_score 0; zero switches -> stability_score 100
	assert.InDelta(t, 40.0, m.FocusScore, 0.01)
}

func TestScoreHighActivityLowSwitchIsHighFocus(t *testing.T) {
	m := Score(118, 1000, 0)
	assert.Equal(t, 120, m.APM)
	assert.InDelta(t, 100.0, m.FocusScore, 0.01)
}

func TestScoreManyDistractionSwitchesTanksStability(t *testing.T) {
	m := Score(30, 0, 15) // 15 weighted distraction switches
	assert.Less(t, m.FocusScore, 50.0)
}

func TestScoreNeverNegativeOrAboveHundred(t *testing.T) {
	m := Score(1000, 1_000_000, 1000)
	assert.GreaterOrEqual(t, m.FocusScore, 0.0)
	assert.LessOrEqual(t, m.FocusScore, 100.0)
}

func TestLooksProductiveMatchesKnownKeywords(t *testing.T) {
	assert.True(t, looksProductive("Code.exe", "main.go - Visual Studio Code"))
	assert.False(t, looksProductive("Steam.exe", "Library"))
}

func TestTrackerRecordWindowSwitchIgnoresNoOpSwitch(t *testing.T) {
	tr := New(nil, nil)
	tr.RecordWindowSwitch("code", "main.go")
	tr.RecordWindowSwitch("code", "main.go")
	assert.InDelta(t, productiveSwitchWeight, tr.weightedSwitch, 0.001)
}
