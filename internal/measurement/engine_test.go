package measurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/body-measure/internal/pose"
)

type fixedScale struct {
	scale      float64
	calibrated bool
}

func (f fixedScale) PixelsToCM(pixels float64) (float64, bool) {
	if !f.calibrated {
		return 0, false
	}
	return pixels * f.scale, true
}

// bodySet returns a front-facing pose whose shoulders are shoulderPx apart.
func bodySet(shoulderPx float64) pose.KeypointSet {
	left := 320 - shoulderPx/2
	right := 320 + shoulderPx/2
	return pose.KeypointSet{
		pose.Nose:          {X: 320, Y: 100, Confidence: 0.95},
		pose.LeftShoulder:  {X: left, Y: 200, Confidence: 0.9},
		pose.RightShoulder: {X: right, Y: 200, Confidence: 0.9},
		pose.LeftElbow:     {X: left, Y: 260, Confidence: 0.9},
		pose.RightElbow:    {X: right, Y: 260, Confidence: 0.9},
		pose.LeftWrist:     {X: left, Y: 340, Confidence: 0.9},
		pose.RightWrist:    {X: right, Y: 330, Confidence: 0.9},
		pose.LeftHip:       {X: 290, Y: 350, Confidence: 0.9},
		pose.RightHip:      {X: 350, Y: 350, Confidence: 0.9},
		pose.LeftKnee:      {X: 290, Y: 450, Confidence: 0.9},
		pose.RightKnee:     {X: 350, Y: 450, Confidence: 0.9},
		pose.LeftAnkle:     {X: 290, Y: 560, Confidence: 0.9},
		pose.RightAnkle:    {X: 350, Y: 555, Confidence: 0.9},
	}
}

func newTestEngine(scale float64) *Engine {
	return NewEngine(DefaultCatalog(), DefaultOptions(), fixedScale{scale: scale, calibrated: true})
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func TestComputeSingleFrame(t *testing.T) {
	t.Parallel()

	e := newTestEngine(0.5)
	r := e.Compute(bodySet(100))

	require.Len(t, r, 7)
	assert.Equal(t, 7, r.Computed())

	shoulder, ok := r.Value(ShoulderWidth)
	require.True(t, ok)
	assert.InDelta(t, 50.0, shoulder, 1e-9)

	chest, ok := r.Value(ChestWidth)
	require.True(t, ok)
	assert.InDelta(t, 0.7*50.0, chest, 1e-9)

	sleeve, ok := r.Value(LeftSleeveLength)
	require.True(t, ok)
	assert.InDelta(t, (60+80)*0.5, sleeve, 1e-9)

	pant, ok := r.Value(RightPantLength)
	require.True(t, ok)
	assert.InDelta(t, (100+105)*0.5, pant, 1e-9)

	torso, ok := r.Value(TorsoLength)
	require.True(t, ok)
	assert.InDelta(t, 150*0.5, torso, 1e-9)
}

func TestComputeSmoothing(t *testing.T) {
	t.Parallel()

	const scale = 0.5
	e := newTestEngine(scale)

	var fed []float64
	for k := 1; k <= DefaultWindowSize; k++ {
		px := 90 + float64(k)*5
		fed = append(fed, px)

		r := e.Compute(bodySet(px))
		got, ok := r.Value(ShoulderWidth)
		require.True(t, ok)
		assert.InDelta(t, mean(fed)*scale, got, 1e-9, "frame %d", k)
	}
	assert.Equal(t, DefaultWindowSize, e.HistoryLen(ShoulderWidth))
}

func TestComputeEvictsOldestValue(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1)
	var fed []float64
	var last float64
	for k := 1; k <= DefaultWindowSize+1; k++ {
		px := float64(k * 10)
		fed = append(fed, px)
		last, _ = e.Compute(bodySet(px)).Value(ShoulderWidth)
	}

	assert.Equal(t, DefaultWindowSize, e.HistoryLen(ShoulderWidth))
	assert.InDelta(t, mean(fed[1:]), last, 1e-9)
	assert.NotEqual(t, mean(fed), last)
}

func TestComputeDropoutIsVisible(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1)
	_, ok := e.Compute(bodySet(100)).Value(ShoulderWidth)
	require.True(t, ok)

	dropout := bodySet(110)
	dropout[pose.RightShoulder] = pose.Keypoint{X: 375, Y: 200, Confidence: 0.2}
	r := e.Compute(dropout)

	_, ok = r.Value(ShoulderWidth)
	assert.False(t, ok, "low confidence frame must not report a stale value")
	assert.Nil(t, r[ShoulderWidth])
	assert.Equal(t, 1, e.HistoryLen(ShoulderWidth))

	got, ok := e.Compute(bodySet(120)).Value(ShoulderWidth)
	require.True(t, ok)
	assert.InDelta(t, 110.0, got, 1e-9)
	assert.Equal(t, 2, e.HistoryLen(ShoulderWidth))
}

func TestComputeMissingMiddleLandmark(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1)
	set := bodySet(100)
	delete(set, pose.LeftElbow)

	r := e.Compute(set)
	assert.Nil(t, r[LeftSleeveLength])
	assert.Equal(t, 0, e.HistoryLen(LeftSleeveLength))

	_, ok := r.Value(RightSleeveLength)
	assert.True(t, ok)
}

func TestComputePathFailsOnAnyLowConfidenceSegment(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1)
	set := bodySet(100)
	set[pose.LeftWrist] = pose.Keypoint{X: 270, Y: 340, Confidence: 0.1}

	r := e.Compute(set)
	assert.Nil(t, r[LeftSleeveLength])
	assert.Equal(t, 0, e.HistoryLen(LeftSleeveLength))
}

func TestComputeTorsoChecksPresenceOnly(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1)
	set := bodySet(100)
	set[pose.LeftShoulder] = pose.Keypoint{X: 270, Y: 200, Confidence: 0.05}

	r := e.Compute(set)
	assert.Nil(t, r[ShoulderWidth])
	torso, ok := r.Value(TorsoLength)
	require.True(t, ok)
	assert.InDelta(t, 150.0, torso, 1e-9)
}

func TestComputeUncalibrated(t *testing.T) {
	t.Parallel()

	e := NewEngine(DefaultCatalog(), DefaultOptions(), fixedScale{})
	r := e.Compute(bodySet(100))

	require.Len(t, r, 7)
	assert.Equal(t, 0, r.Computed())
	for _, name := range DefaultCatalog().Names() {
		assert.Equal(t, 0, e.HistoryLen(name))
	}
}

func TestComputeNilSet(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1)
	r := e.Compute(nil)
	assert.Equal(t, 0, r.Computed())
}

func TestReset(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1)
	e.Compute(bodySet(100))
	require.Equal(t, 1, e.HistoryLen(ShoulderWidth))

	e.Reset()
	assert.Equal(t, 0, e.HistoryLen(ShoulderWidth))

	raw, ok := e.Raw(bodySet(80), ShoulderWidth)
	require.True(t, ok)
	assert.InDelta(t, 80.0, raw, 1e-9)
	assert.Equal(t, 0, e.HistoryLen(ShoulderWidth))
}

func TestWindow(t *testing.T) {
	t.Parallel()

	w := NewWindow(3)
	_, ok := w.Mean()
	assert.False(t, ok)

	for _, v := range []float64{1, 2, 3, 4} {
		w.Push(v)
	}
	assert.Equal(t, []float64{2, 3, 4}, w.Values())
	m, ok := w.Mean()
	require.True(t, ok)
	assert.InDelta(t, 3.0, m, 1e-12)

	w.Reset()
	assert.Equal(t, 0, w.Len())
}
