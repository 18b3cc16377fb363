// Package overlay annotates camera frames with the detected skeleton and the
// measured values.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/example/body-measure/internal/calibration"
	"github.com/example/body-measure/internal/measurement"
	"github.com/example/body-measure/internal/pose"
)

// ErrUnavailable is returned by builds without image rendering support.
var ErrUnavailable = errors.New("overlay rendering is not available in this build")

// ErrDecode is returned when the input bytes are not a decodable image.
var ErrDecode = errors.New("cannot decode image")

// Colours, in RGBA.
var (
	SkeletonColor    = color.RGBA{G: 255, A: 255}
	MeasurementColor = color.RGBA{R: 255, B: 255, A: 255}
	TextColor        = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	HighConfidence   = color.RGBA{G: 255, A: 255}
	MediumConfidence = color.RGBA{R: 255, G: 255, A: 255}
	LowConfidence    = color.RGBA{R: 255, A: 255}
)

const (
	KeypointRadius = 5
	LineThickness  = 2
	TextScale      = 0.6
	TextThickness  = 2
)

// Connections are the skeleton edges drawn between landmarks.
var Connections = [][2]pose.Landmark{
	{pose.LeftShoulder, pose.RightShoulder},
	{pose.LeftShoulder, pose.LeftElbow},
	{pose.LeftElbow, pose.LeftWrist},
	{pose.RightShoulder, pose.RightElbow},
	{pose.RightElbow, pose.RightWrist},
	{pose.LeftShoulder, pose.LeftHip},
	{pose.RightShoulder, pose.RightHip},
	{pose.LeftHip, pose.RightHip},
	{pose.LeftHip, pose.LeftKnee},
	{pose.LeftKnee, pose.LeftAnkle},
	{pose.RightHip, pose.RightKnee},
	{pose.RightKnee, pose.RightAnkle},
	{pose.Nose, pose.LeftEye},
	{pose.Nose, pose.RightEye},
	{pose.LeftEye, pose.LeftEar},
	{pose.RightEye, pose.RightEar},
}

// ConfidenceColor maps a keypoint confidence to green, yellow or red.
func ConfidenceColor(confidence float64) color.RGBA {
	switch {
	case confidence > 0.7:
		return HighConfidence
	case confidence > 0.4:
		return MediumConfidence
	default:
		return LowConfidence
	}
}

type Segment struct {
	From, To image.Point
	Color    color.RGBA
}

type Marker struct {
	At    image.Point
	Color color.RGBA
}

// Label is a line of text. When FromRight is set, At.X is an offset from the
// right edge of the frame.
type Label struct {
	At        image.Point
	FromRight bool
	Text      string
	Color     color.RGBA
	Scale     float64
	Thickness int
}

// Scene lists everything drawn on a frame, in drawing order: segments, then
// markers, then labels.
type Scene struct {
	Segments []Segment
	Markers  []Marker
	Labels   []Label
}

// Frame is what a scene is built from.
type Frame struct {
	Keypoints       pose.KeypointSet
	Catalog         measurement.Catalog
	Measurements    measurement.Result
	Calibration     calibration.State
	ConfidenceFloor float64
}

// BuildScene lays out the skeleton, keypoints, two-point measurement lines,
// the measurement summary and the calibration status.
func BuildScene(f Frame) Scene {
	var s Scene
	floor := f.ConfidenceFloor
	set := f.Keypoints

	for _, c := range Connections {
		a, okA := set.Get(c[0])
		b, okB := set.Get(c[1])
		if okA && okB && a.Confidence > floor && b.Confidence > floor {
			s.Segments = append(s.Segments, Segment{From: pt(a), To: pt(b), Color: SkeletonColor})
		}
	}

	for l := pose.Landmark(0); l < pose.LandmarkCount; l++ {
		kp, ok := set.Get(l)
		if !ok || kp.Confidence <= floor {
			continue
		}
		s.Markers = append(s.Markers, Marker{At: pt(kp), Color: ConfidenceColor(kp.Confidence)})
	}

	for _, d := range f.Catalog {
		v, ok := f.Measurements.Value(d.Name)
		if !ok || d.Kind != measurement.KindTwoPoint || len(d.Landmarks) != 2 {
			continue
		}
		a, okA := set.Get(d.Landmarks[0])
		b, okB := set.Get(d.Landmarks[1])
		if !okA || !okB {
			continue
		}
		from, to := pt(a), pt(b)
		s.Segments = append(s.Segments, Segment{From: from, To: to, Color: MeasurementColor})
		mid := image.Pt((from.X+to.X)/2-30, (from.Y+to.Y)/2-10)
		s.Labels = append(s.Labels, textLabel(mid, fmt.Sprintf("%.1fcm", v)))
	}

	y := 30
	for _, d := range f.Catalog {
		v, ok := f.Measurements.Value(d.Name)
		if !ok {
			continue
		}
		s.Labels = append(s.Labels, textLabel(image.Pt(10, y), fmt.Sprintf("%s: %.1f cm", d.DisplayName, v)))
		y += 25
	}

	status := Label{At: image.Pt(200, 30), FromRight: true, Text: "NOT CALIBRATED", Color: LowConfidence, Scale: TextScale, Thickness: TextThickness}
	if f.Calibration.IsCalibrated {
		status.Text = "CALIBRATED"
		status.Color = HighConfidence
	}
	s.Labels = append(s.Labels, status)
	if f.Calibration.IsCalibrated && f.Calibration.ReferenceHeightCM != nil {
		s.Labels = append(s.Labels, Label{
			At:        image.Pt(200, 60),
			FromRight: true,
			Text:      fmt.Sprintf("Height: %gcm", *f.Calibration.ReferenceHeightCM),
			Color:     TextColor,
			Scale:     TextScale - 0.1,
			Thickness: 1,
		})
	}
	return s
}

// Renderer draws a scene onto an encoded image and returns JPEG bytes.
type Renderer interface {
	Render(img []byte, scene Scene) ([]byte, error)
}

func textLabel(at image.Point, text string) Label {
	return Label{At: at, Text: text, Color: TextColor, Scale: TextScale, Thickness: TextThickness}
}

func pt(kp pose.Keypoint) image.Point {
	return image.Pt(int(kp.X), int(kp.Y))
}
