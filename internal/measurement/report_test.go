package measurement

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/body-measure/internal/pose"
)

func ptr(v float64) *float64 { return &v }

func TestComputeProportions(t *testing.T) {
	t.Parallel()

	r := Result{
		ShoulderWidth:     ptr(45),
		TorsoLength:       ptr(60),
		LeftSleeveLength:  ptr(60),
		RightSleeveLength: ptr(58),
		LeftPantLength:    ptr(100),
		RightPantLength:   nil,
	}

	p := ComputeProportions(r)
	assert.InDelta(t, 0.75, p[ShoulderTorsoRatio], 1e-9)
	assert.InDelta(t, 0.9667, p[ArmSymmetry], 1e-4)
	assert.InDelta(t, 2.0, p[ArmDifferenceCM], 1e-9)

	_, ok := p[LegSymmetry]
	assert.False(t, ok)
	_, ok = p[LegDifferenceCM]
	assert.False(t, ok)
}

func TestComputeProportionsEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ComputeProportions(Result{}))
	assert.Empty(t, ComputeProportions(Result{ShoulderWidth: ptr(40), TorsoLength: ptr(0)}))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	catalog := DefaultCatalog()

	t.Run("out of range shoulder", func(t *testing.T) {
		v := catalog.Validate(Result{ShoulderWidth: ptr(65)})
		assert.False(t, v.IsValid)
		require.Len(t, v.Warnings, 1)
		assert.Equal(t, "Shoulder Width: 65.0cm seems unusual (expected 30-60cm)", v.Warnings[0])
	})

	t.Run("in range shoulder", func(t *testing.T) {
		v := catalog.Validate(Result{ShoulderWidth: ptr(45)})
		assert.True(t, v.IsValid)
		assert.Empty(t, v.Warnings)
	})

	t.Run("boundaries are inclusive", func(t *testing.T) {
		v := catalog.Validate(Result{ShoulderWidth: ptr(30), TorsoLength: ptr(80)})
		assert.True(t, v.IsValid)
	})

	t.Run("null values and unranged measurements are skipped", func(t *testing.T) {
		v := catalog.Validate(Result{ShoulderWidth: nil, ChestWidth: ptr(500)})
		assert.True(t, v.IsValid)
	})

	t.Run("warnings follow catalog order", func(t *testing.T) {
		v := catalog.Validate(Result{TorsoLength: ptr(10), ShoulderWidth: ptr(10)})
		require.Len(t, v.Warnings, 2)
		assert.True(t, strings.HasPrefix(v.Warnings[0], "Shoulder Width"))
		assert.True(t, strings.HasPrefix(v.Warnings[1], "Torso Length"))
	})
}

func TestFormat(t *testing.T) {
	t.Parallel()

	out := DefaultCatalog().Format(Result{ShoulderWidth: ptr(44.26), ChestWidth: nil})
	assert.Equal(t, "=== BODY MEASUREMENTS ===\nShoulder Width: 44.3 cm", out)
}

func TestCatalogCheck(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultCatalog().Check())

	tests := []struct {
		name    string
		catalog Catalog
	}{
		{"empty", Catalog{}},
		{"two point with three landmarks", Catalog{{Name: "x", Kind: KindTwoPoint, Landmarks: []pose.Landmark{1, 2, 3}}}},
		{"path with two landmarks", Catalog{{Name: "x", Kind: KindPath, Landmarks: []pose.Landmark{1, 2}}}},
		{"midpoint pair with two landmarks", Catalog{{Name: "x", Kind: KindVerticalMidpointPair, Landmarks: []pose.Landmark{1, 2}}}},
		{"unknown kind", Catalog{{Name: "x", Kind: "spiral", Landmarks: []pose.Landmark{1, 2}}}},
		{"duplicate names", append(DefaultCatalog(), DefaultCatalog()[0])},
		{"inverted range", Catalog{{Name: "x", Kind: KindTwoPoint, Landmarks: []pose.Landmark{1, 2}, Range: &Range{Min: 5, Max: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.catalog.Check())
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	content := `{
  "measurements": [
    {"name": "chest_width", "multiplier": 0.65, "range": {"min": 25, "max": 55}},
    {"name": "hip_width", "display_name": "Hip Width", "kind": "two_point", "landmarks": ["left_hip", "right_hip"]}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog, 8)

	chest, ok := catalog.Lookup(ChestWidth)
	require.True(t, ok)
	assert.Equal(t, 0.65, chest.Multiplier)
	assert.Equal(t, KindTwoPoint, chest.Kind)
	require.NotNil(t, chest.Range)
	assert.Equal(t, 55.0, chest.Range.Max)

	hip, ok := catalog.Lookup("hip_width")
	require.True(t, ok)
	assert.Equal(t, []pose.Landmark{pose.LeftHip, pose.RightHip}, hip.Landmarks)
}

func TestLoadCatalogRejectsBadFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := LoadCatalog(filepath.Join(dir, "catalog.yaml"))
	assert.Error(t, err)

	_, err = LoadCatalog(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"measurements":[{"name":"torso_length","landmarks":["nose"]}]}`), 0o600))
	_, err = LoadCatalog(bad)
	assert.Error(t, err)
}
