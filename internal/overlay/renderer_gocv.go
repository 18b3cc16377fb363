//go:build gocv

package overlay

import (
	"image"

	"gocv.io/x/gocv"
)

// Available reports whether this build can render overlays.
const Available = true

// JPEGRenderer draws scenes with OpenCV.
type JPEGRenderer struct {
	Quality int
}

// NewRenderer returns the OpenCV renderer.
func NewRenderer() Renderer {
	return &JPEGRenderer{Quality: 90}
}

func (r *JPEGRenderer) Render(img []byte, scene Scene) ([]byte, error) {
	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, ErrDecode
	}

	width := mat.Cols()
	for _, s := range scene.Segments {
		gocv.Line(&mat, s.From, s.To, s.Color, LineThickness)
	}
	for _, m := range scene.Markers {
		gocv.Circle(&mat, m.At, KeypointRadius, m.Color, -1)
		gocv.Circle(&mat, m.At, KeypointRadius+2, TextColor, 1)
	}
	for _, l := range scene.Labels {
		at := l.At
		if l.FromRight {
			at = image.Pt(width-l.At.X, l.At.Y)
		}
		gocv.PutText(&mat, l.Text, at, gocv.FontHersheySimplex, l.Scale, l.Color, l.Thickness)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, r.Quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
