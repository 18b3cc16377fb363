package pose

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func torsoSet(conf float64) KeypointSet {
	return KeypointSet{
		LeftShoulder:  {X: 260, Y: 180, Confidence: conf},
		RightShoulder: {X: 380, Y: 180, Confidence: conf},
		LeftHip:       {X: 280, Y: 330, Confidence: conf},
		RightHip:      {X: 360, Y: 330, Confidence: conf},
	}
}

func TestValidatorIsValid(t *testing.T) {
	t.Parallel()

	v := NewValidator(DefaultConfidenceFloor)

	t.Run("nil set", func(t *testing.T) {
		assert.False(t, v.IsValid(nil))
	})

	t.Run("all critical landmarks confident", func(t *testing.T) {
		assert.True(t, v.IsValid(torsoSet(0.9)))
	})

	t.Run("confidence exactly at floor passes", func(t *testing.T) {
		assert.True(t, v.IsValid(torsoSet(DefaultConfidenceFloor)))
	})

	t.Run("low confidence hip fails", func(t *testing.T) {
		set := torsoSet(0.9)
		set[RightHip] = Keypoint{X: 360, Y: 330, Confidence: 0.29}
		assert.False(t, v.IsValid(set))
	})

	t.Run("missing shoulder fails", func(t *testing.T) {
		set := torsoSet(0.9)
		delete(set, LeftShoulder)
		assert.False(t, v.IsValid(set))
	})

	t.Run("limb ends are not required", func(t *testing.T) {
		set := torsoSet(0.9)
		_, ok := set.Get(LeftWrist)
		require.False(t, ok)
		assert.True(t, v.IsValid(set))
	})
}

func TestParseSlots(t *testing.T) {
	t.Parallel()

	slots := make([][]float64, LandmarkCount)
	slots[Nose] = []float64{320, 100, 0.9}
	slots[LeftAnkle] = []float64{310, 500, 0.8}

	set, err := ParseSlots(slots)
	require.NoError(t, err)
	assert.Len(t, set, 2)

	nose, ok := set.Get(Nose)
	require.True(t, ok)
	assert.Equal(t, Keypoint{X: 320, Y: 100, Confidence: 0.9}, nose)

	_, ok = set.Get(RightAnkle)
	assert.False(t, ok)
}

func TestParseSlotsRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		slots [][]float64
	}{
		{"too many slots", make([][]float64, LandmarkCount+1)},
		{"short triple", [][]float64{{1, 2}}},
		{"confidence above one", [][]float64{{1, 2, 1.5}}},
		{"negative confidence", [][]float64{{1, 2, -0.1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSlots(tt.slots)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedKeypoints))
		})
	}
}

func TestKeypointSetJSON(t *testing.T) {
	t.Parallel()

	var set KeypointSet
	require.NoError(t, json.Unmarshal([]byte(`[[320,100,0.9],null,[1,2,0.5]]`), &set))
	assert.Len(t, set, 2)
	kp, ok := set.Get(LeftEye)
	require.True(t, ok)
	assert.Equal(t, 0.5, kp.Confidence)

	data, err := json.Marshal(set)
	require.NoError(t, err)
	var slots []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &slots))
	assert.Len(t, slots, LandmarkCount)
	assert.Equal(t, "null", string(slots[LeftEyeInner]))

	var missing KeypointSet
	require.NoError(t, json.Unmarshal([]byte(`null`), &missing))
	assert.Nil(t, missing)
}

func TestGeometry(t *testing.T) {
	t.Parallel()

	a := Keypoint{X: 0, Y: 0, Confidence: 0.1}
	b := Keypoint{X: 3, Y: 4, Confidence: 0.9}
	assert.InDelta(t, 5.0, Distance(a, b), 1e-9)

	mid := Midpoint(a, b)
	assert.Equal(t, Keypoint{X: 1.5, Y: 2, Confidence: 1}, mid)
}

func TestLandmarkNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "left_shoulder", LeftShoulder.String())
	assert.Equal(t, "right_foot_index", RightFootIndex.String())

	l, err := ParseLandmark("right_hip")
	require.NoError(t, err)
	assert.Equal(t, RightHip, l)

	_, err = ParseLandmark("tail")
	assert.Error(t, err)

	var fromIndex Landmark
	require.NoError(t, json.Unmarshal([]byte(`27`), &fromIndex))
	assert.Equal(t, LeftAnkle, fromIndex)
}
