//go:build !gocv

package overlay

type unavailableRenderer struct{}

// NewRenderer returns a renderer that always fails with ErrUnavailable.
// Build with the gocv tag to enable OpenCV rendering.
func NewRenderer() Renderer {
	return unavailableRenderer{}
}

func (unavailableRenderer) Render([]byte, Scene) ([]byte, error) {
	return nil, ErrUnavailable
}

// Available reports whether this build can render overlays.
const Available = false
