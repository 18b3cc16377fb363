package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/body-measure/internal/pose"
)

func frameLine(t *testing.T, set pose.KeypointSet) string {
	t.Helper()
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	return string(raw)
}

func standing() pose.KeypointSet {
	return pose.KeypointSet{
		pose.Nose:          {X: 320, Y: 100, Confidence: 0.95},
		pose.LeftShoulder:  {X: 270, Y: 180, Confidence: 0.9},
		pose.RightShoulder: {X: 370, Y: 180, Confidence: 0.9},
		pose.LeftHip:       {X: 290, Y: 330, Confidence: 0.9},
		pose.RightHip:      {X: 350, Y: 330, Confidence: 0.9},
		pose.LeftAnkle:     {X: 320, Y: 500, Confidence: 0.9},
	}
}

func TestRunReplaysFrames(t *testing.T) {
	dir := t.TempDir()
	framesPath := filepath.Join(dir, "frames.jsonl")
	csvPath := filepath.Join(dir, "out.csv")

	lines := []string{"null", "", frameLine(t, standing()), frameLine(t, standing())}
	require.NoError(t, os.WriteFile(framesPath, []byte(strings.Join(lines, "\n")), 0o600))

	var stdout, stderr bytes.Buffer
	err := run([]string{"-frames", framesPath, "-height", "180", "-csv", csvPath, "-v"}, nil, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "frame 1: 0/7 measurements")
	assert.Contains(t, out, "frames: 3, scale: 0.4500 cm/px (head_to_foot)")
	assert.Contains(t, out, "=== BODY MEASUREMENTS ===\nShoulder Width: 45.0 cm")
	assert.Contains(t, out, "shoulder_torso_ratio:")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "180", rows[1][1])
	assert.Equal(t, "shoulder_width", rows[0][2])
}

func TestRunReadsStdin(t *testing.T) {
	in := strings.NewReader(frameLine(t, standing()) + "\n")
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"-height", "170"}, in, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "frames: 1")
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		input string
		want  string
	}{
		{"missing height", nil, "", "-height"},
		{"nan height", []string{"-height", "NaN"}, "", "-height"},
		{"infinite height", []string{"-height", "+Inf"}, "", "-height"},
		{"floor above one", []string{"-height", "180", "-floor", "1.5"}, "", "-floor"},
		{"negative floor", []string{"-height", "180", "-floor", "-0.1"}, "", "-floor"},
		{"zero ratio", []string{"-height", "180", "-ratio", "0"}, "", "-ratio"},
		{"ratio above one", []string{"-height", "180", "-ratio", "1.2"}, "", "-ratio"},
		{"no frames", []string{"-height", "180"}, "\n\n", "no frames"},
		{"never calibrated", []string{"-height", "180"}, "null\nnull\n", "no valid frame"},
		{"malformed", []string{"-height", "180"}, "[[1,2]]\n", "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, strings.NewReader(tt.input), &bytes.Buffer{}, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
