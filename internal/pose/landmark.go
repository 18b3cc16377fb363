// Package pose models the body keypoints produced by an external pose
// estimator and the checks that decide whether a frame is usable.
package pose

import (
	"encoding/json"
	"fmt"
)

// Landmark identifies one of the body landmarks of the MediaPipe pose model.
// The ordinal value is the landmark's slot in the estimator's output.
type Landmark int

// Body landmarks, in estimator slot order.
const (
	Nose Landmark = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex

	// LandmarkCount is the number of slots in a full keypoint frame.
	LandmarkCount = 33
)

var landmarkNames = [LandmarkCount]string{
	"nose",
	"left_eye_inner",
	"left_eye",
	"left_eye_outer",
	"right_eye_inner",
	"right_eye",
	"right_eye_outer",
	"left_ear",
	"right_ear",
	"mouth_left",
	"mouth_right",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_pinky",
	"right_pinky",
	"left_index",
	"right_index",
	"left_thumb",
	"right_thumb",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
	"left_heel",
	"right_heel",
	"left_foot_index",
	"right_foot_index",
}

// FaceLandmarks are the head landmarks used to locate the top of the body.
var FaceLandmarks = []Landmark{Nose, LeftEye, RightEye, LeftEar, RightEar}

// FootLandmarks are the landmarks used to locate the bottom of the body.
var FootLandmarks = []Landmark{LeftAnkle, RightAnkle, LeftHeel, RightHeel, LeftFootIndex, RightFootIndex}

// Valid reports whether l names a known landmark.
func (l Landmark) Valid() bool {
	return l >= 0 && l < LandmarkCount
}

// String returns the snake_case landmark name.
func (l Landmark) String() string {
	if !l.Valid() {
		return fmt.Sprintf("landmark(%d)", int(l))
	}
	return landmarkNames[l]
}

// ParseLandmark resolves a snake_case landmark name.
func ParseLandmark(name string) (Landmark, error) {
	for i, n := range landmarkNames {
		if n == name {
			return Landmark(i), nil
		}
	}
	return 0, fmt.Errorf("unknown landmark %q", name)
}

// MarshalJSON encodes the landmark by name.
func (l Landmark) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid landmark %d", int(l))
	}
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts either a landmark name or its slot index.
func (l *Landmark) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseLandmark(name)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}

	var idx int
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("landmark must be a name or slot index: %w", err)
	}
	if !Landmark(idx).Valid() {
		return fmt.Errorf("landmark index %d out of range", idx)
	}
	*l = Landmark(idx)
	return nil
}
