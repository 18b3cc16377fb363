package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/body-measure/internal/pose"
)

func newTestCalibrator() *Calibrator {
	return NewCalibrator(DefaultOptions(), zap.NewNop())
}

func standingSet() pose.KeypointSet {
	return pose.KeypointSet{
		pose.Nose:      {X: 320, Y: 100, Confidence: 0.9},
		pose.LeftAnkle: {X: 310, Y: 500, Confidence: 0.9},
	}
}

func TestCalibrateHeadToFoot(t *testing.T) {
	t.Parallel()

	c := newTestCalibrator()
	require.NoError(t, c.Calibrate(standingSet(), 180))

	pixelHeight := math.Hypot(10, 400)
	st := c.State()
	require.True(t, st.IsCalibrated)
	require.NotNil(t, st.ScaleFactorCMPerPx)
	assert.InDelta(t, 180/pixelHeight, *st.ScaleFactorCMPerPx, 1e-9)
	assert.InDelta(t, 0.4499, *st.ScaleFactorCMPerPx, 1e-4)
	require.NotNil(t, st.ReferenceHeightCM)
	assert.Equal(t, 180.0, *st.ReferenceHeightCM)
	assert.Equal(t, MethodHeadToFoot, st.Method)

	cm, ok := c.PixelsToCM(100)
	require.True(t, ok)
	assert.InDelta(t, 44.99, cm, 0.01)
}

func TestCalibratePicksExtremePoints(t *testing.T) {
	t.Parallel()

	set := pose.KeypointSet{
		pose.Nose:          {X: 320, Y: 120, Confidence: 0.9},
		pose.LeftEye:       {X: 315, Y: 105, Confidence: 0.9},
		pose.RightEar:      {X: 330, Y: 90, Confidence: 0.2}, // below floor, ignored
		pose.LeftAnkle:     {X: 300, Y: 480, Confidence: 0.9},
		pose.RightHeel:     {X: 340, Y: 510, Confidence: 0.8},
		pose.LeftFootIndex: {X: 290, Y: 530, Confidence: 0.3}, // at floor, ignored
	}

	c := newTestCalibrator()
	require.NoError(t, c.Calibrate(set, 170))

	want := 170 / math.Hypot(340-315, 510-105)
	cm, ok := c.PixelsToCM(1)
	require.True(t, ok)
	assert.InDelta(t, want, cm, 1e-9)
}

func TestCalibrateFallsBackToShoulderAnkle(t *testing.T) {
	t.Parallel()

	t.Run("left side preferred", func(t *testing.T) {
		set := pose.KeypointSet{
			pose.LeftShoulder:  {X: 300, Y: 200, Confidence: 0.9},
			pose.LeftAnkle:     {X: 300, Y: 500, Confidence: 0.1},
			pose.RightShoulder: {X: 400, Y: 200, Confidence: 0.9},
			pose.RightAnkle:    {X: 400, Y: 620, Confidence: 0.9},
		}
		c := newTestCalibrator()
		require.NoError(t, c.Calibrate(set, 160))

		st := c.State()
		assert.Equal(t, MethodShoulderAnkle, st.Method)
		assert.InDelta(t, 300/0.75, st.PixelLength, 1e-9)
		assert.InDelta(t, 160/(300/0.75), *st.ScaleFactorCMPerPx, 1e-9)
	})

	t.Run("right side when left incomplete", func(t *testing.T) {
		set := pose.KeypointSet{
			pose.LeftShoulder:  {X: 300, Y: 200, Confidence: 0.9},
			pose.RightShoulder: {X: 400, Y: 200, Confidence: 0.9},
			pose.RightAnkle:    {X: 400, Y: 500, Confidence: 0.9},
		}
		c := NewCalibrator(Options{ConfidenceFloor: 0.3, BodyHeightRatio: 0.8}, nil)
		require.NoError(t, c.Calibrate(set, 160))
		assert.InDelta(t, 300/0.8, c.State().PixelLength, 1e-9)
	})
}

func TestCalibrateFailuresKeepState(t *testing.T) {
	t.Parallel()

	c := newTestCalibrator()
	assert.ErrorIs(t, c.Calibrate(nil, 180), ErrNoKeypoints)
	assert.ErrorIs(t, c.Calibrate(pose.KeypointSet{pose.Nose: {X: 1, Y: 1, Confidence: 0.9}}, 180), ErrNoPixelHeight)
	assert.False(t, c.IsCalibrated())

	_, ok := c.PixelsToCM(100)
	assert.False(t, ok)

	require.NoError(t, c.Calibrate(standingSet(), 180))
	before := c.State()

	zeroHeight := pose.KeypointSet{
		pose.Nose:      {X: 320, Y: 300, Confidence: 0.9},
		pose.LeftAnkle: {X: 320, Y: 300, Confidence: 0.9},
	}
	assert.ErrorIs(t, c.Calibrate(zeroHeight, 170), ErrNoPixelHeight)
	for _, height := range []float64{0, -170, math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.ErrorIs(t, c.Calibrate(standingSet(), height), ErrInvalidHeight, "height %v", height)
	}
	assert.Equal(t, before, c.State())

	cm, ok := c.PixelsToCM(100)
	require.True(t, ok)
	assert.False(t, math.IsNaN(cm) || math.IsInf(cm, 0))
}

func TestCalibrateFromReferenceRejectsNonFiniteLength(t *testing.T) {
	t.Parallel()

	set := pose.KeypointSet{
		pose.LeftShoulder:  {X: 250, Y: 200, Confidence: 0.9},
		pose.RightShoulder: {X: 350, Y: 200, Confidence: 0.9},
	}
	c := newTestCalibrator()
	for _, ref := range []float64{0, -40, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, c.CalibrateFromReference(set, ref, ReferenceShoulderWidth), ErrInvalidHeight, "reference %v", ref)
	}
	assert.False(t, c.IsCalibrated())
	assert.Nil(t, c.State().ScaleFactorCMPerPx)
}

func TestRecalibrationOverwrites(t *testing.T) {
	t.Parallel()

	c := newTestCalibrator()
	require.NoError(t, c.Calibrate(standingSet(), 180))
	require.NoError(t, c.Calibrate(standingSet(), 150))

	cm, ok := c.PixelsToCM(100)
	require.True(t, ok)
	assert.InDelta(t, 100*150/math.Hypot(10, 400), cm, 1e-9)
	assert.Equal(t, 150.0, *c.State().ReferenceHeightCM)
}

func TestCalibrateFromReference(t *testing.T) {
	t.Parallel()

	set := pose.KeypointSet{
		pose.LeftShoulder:  {X: 250, Y: 200, Confidence: 0.9},
		pose.RightShoulder: {X: 350, Y: 200, Confidence: 0.9},
	}

	c := newTestCalibrator()
	assert.ErrorIs(t, c.CalibrateFromReference(set, 40, "hip_width"), ErrUnsupportedReference)
	assert.ErrorIs(t, c.CalibrateFromReference(pose.KeypointSet{}, 40, ReferenceShoulderWidth), ErrMissingLandmarks)
	assert.False(t, c.IsCalibrated())

	require.NoError(t, c.CalibrateFromReference(set, 40, ReferenceShoulderWidth))
	cm, ok := c.PixelsToCM(100)
	require.True(t, ok)
	assert.InDelta(t, 40.0, cm, 1e-9)

	st := c.State()
	assert.Equal(t, ReferenceShoulderWidth, st.ReferenceType)
	assert.Equal(t, MethodReferenceWidth, st.Method)
	assert.Nil(t, st.ReferenceHeightCM)
}
