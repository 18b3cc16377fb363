// Package measurement turns calibrated keypoints into smoothed body
// measurements in centimetres.
package measurement

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/body-measure/internal/pose"
)

// Name identifies a catalog measurement.
type Name string

// Measurements of the default catalog.
const (
	ShoulderWidth     Name = "shoulder_width"
	LeftSleeveLength  Name = "left_sleeve_length"
	RightSleeveLength Name = "right_sleeve_length"
	LeftPantLength    Name = "left_pant_length"
	RightPantLength   Name = "right_pant_length"
	ChestWidth        Name = "chest_width"
	TorsoLength       Name = "torso_length"
)

// Kind selects how a definition turns its landmarks into a pixel length.
type Kind string

const (
	// KindTwoPoint is the straight distance between two landmarks.
	KindTwoPoint Kind = "two_point"
	// KindPath sums the segments through three or more landmarks in order.
	KindPath Kind = "path"
	// KindVerticalMidpointPair is the distance between the midpoint of the
	// first two landmarks and the midpoint of the last two.
	KindVerticalMidpointPair Kind = "vertical_midpoint_pair"
)

// ChestWidthMultiplier approximates chest width from shoulder width.
const ChestWidthMultiplier = 0.7

// Range is an inclusive plausible interval in centimetres.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Definition describes one catalog measurement.
type Definition struct {
	Name        Name            `json:"name"`
	DisplayName string          `json:"display_name"`
	Kind        Kind            `json:"kind"`
	Landmarks   []pose.Landmark `json:"landmarks"`
	// Multiplier scales the pixel length; zero means no scaling.
	Multiplier float64 `json:"multiplier,omitempty"`
	Range      *Range  `json:"range,omitempty"`
}

func (d Definition) scale() float64 {
	if d.Multiplier == 0 {
		return 1
	}
	return d.Multiplier
}

// Catalog is the ordered set of measurements an engine computes.
type Catalog []Definition

// DefaultCatalog returns the stock measurement catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			Name:        ShoulderWidth,
			DisplayName: "Shoulder Width",
			Kind:        KindTwoPoint,
			Landmarks:   []pose.Landmark{pose.LeftShoulder, pose.RightShoulder},
			Range:       &Range{Min: 30, Max: 60},
		},
		{
			Name:        LeftSleeveLength,
			DisplayName: "Left Sleeve Length",
			Kind:        KindPath,
			Landmarks:   []pose.Landmark{pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist},
			Range:       &Range{Min: 50, Max: 90},
		},
		{
			Name:        RightSleeveLength,
			DisplayName: "Right Sleeve Length",
			Kind:        KindPath,
			Landmarks:   []pose.Landmark{pose.RightShoulder, pose.RightElbow, pose.RightWrist},
			Range:       &Range{Min: 50, Max: 90},
		},
		{
			Name:        LeftPantLength,
			DisplayName: "Left Pant Length",
			Kind:        KindPath,
			Landmarks:   []pose.Landmark{pose.LeftHip, pose.LeftKnee, pose.LeftAnkle},
			Range:       &Range{Min: 70, Max: 130},
		},
		{
			Name:        RightPantLength,
			DisplayName: "Right Pant Length",
			Kind:        KindPath,
			Landmarks:   []pose.Landmark{pose.RightHip, pose.RightKnee, pose.RightAnkle},
			Range:       &Range{Min: 70, Max: 130},
		},
		{
			Name:        ChestWidth,
			DisplayName: "Chest Width",
			Kind:        KindTwoPoint,
			Landmarks:   []pose.Landmark{pose.LeftShoulder, pose.RightShoulder},
			Multiplier:  ChestWidthMultiplier,
		},
		{
			Name:        TorsoLength,
			DisplayName: "Torso Length",
			Kind:        KindVerticalMidpointPair,
			Landmarks:   []pose.Landmark{pose.LeftShoulder, pose.RightShoulder, pose.LeftHip, pose.RightHip},
			Range:       &Range{Min: 40, Max: 80},
		},
	}
}

// Names returns the measurement names in catalog order.
func (c Catalog) Names() []Name {
	names := make([]Name, len(c))
	for i, d := range c {
		names[i] = d.Name
	}
	return names
}

// Lookup returns the definition with the given name.
func (c Catalog) Lookup(name Name) (Definition, bool) {
	for _, d := range c {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Check verifies that every definition is well formed and names are unique.
func (c Catalog) Check() error {
	if len(c) == 0 {
		return fmt.Errorf("catalog is empty")
	}
	seen := make(map[Name]bool, len(c))
	for i, d := range c {
		if d.Name == "" {
			return fmt.Errorf("definition %d: name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("definition %q: duplicate name", d.Name)
		}
		seen[d.Name] = true

		n := len(d.Landmarks)
		switch d.Kind {
		case KindTwoPoint:
			if n != 2 {
				return fmt.Errorf("definition %q: %s needs 2 landmarks, got %d", d.Name, d.Kind, n)
			}
		case KindPath:
			if n < 3 {
				return fmt.Errorf("definition %q: %s needs at least 3 landmarks, got %d", d.Name, d.Kind, n)
			}
		case KindVerticalMidpointPair:
			if n != 4 {
				return fmt.Errorf("definition %q: %s needs 4 landmarks, got %d", d.Name, d.Kind, n)
			}
		default:
			return fmt.Errorf("definition %q: unknown kind %q", d.Name, d.Kind)
		}
		for _, l := range d.Landmarks {
			if !l.Valid() {
				return fmt.Errorf("definition %q: invalid landmark %d", d.Name, int(l))
			}
		}
		if d.Multiplier < 0 {
			return fmt.Errorf("definition %q: multiplier must not be negative", d.Name)
		}
		if d.Range != nil && d.Range.Min > d.Range.Max {
			return fmt.Errorf("definition %q: range min %.1f exceeds max %.1f", d.Name, d.Range.Min, d.Range.Max)
		}
	}
	return nil
}

// catalogFile is the on-disk override format. Entries replace the default
// definition with the same name field by field; unknown names are appended.
type catalogFile struct {
	Measurements []struct {
		Name        Name             `json:"name"`
		DisplayName *string          `json:"display_name,omitempty"`
		Kind        *Kind            `json:"kind,omitempty"`
		Landmarks   *[]pose.Landmark `json:"landmarks,omitempty"`
		Multiplier  *float64         `json:"multiplier,omitempty"`
		Range       *Range           `json:"range,omitempty"`
	} `json:"measurements"`
}

const maxCatalogFileSize = 1 << 20

// LoadCatalog reads a JSON catalog override and merges it over the defaults.
// Fields omitted from the file keep their default values.
func LoadCatalog(path string) (Catalog, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("catalog file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog file: %w", err)
	}
	if info.Size() > maxCatalogFileSize {
		return nil, fmt.Errorf("catalog file too large: %d bytes (max %d)", info.Size(), maxCatalogFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	catalog := DefaultCatalog()
	for _, entry := range file.Measurements {
		idx := -1
		for i, d := range catalog {
			if d.Name == entry.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			catalog = append(catalog, Definition{Name: entry.Name, DisplayName: string(entry.Name)})
			idx = len(catalog) - 1
		}
		d := &catalog[idx]
		if entry.DisplayName != nil {
			d.DisplayName = *entry.DisplayName
		}
		if entry.Kind != nil {
			d.Kind = *entry.Kind
		}
		if entry.Landmarks != nil {
			d.Landmarks = *entry.Landmarks
		}
		if entry.Multiplier != nil {
			d.Multiplier = *entry.Multiplier
		}
		if entry.Range != nil {
			r := *entry.Range
			d.Range = &r
		}
	}

	if err := catalog.Check(); err != nil {
		return nil, fmt.Errorf("invalid catalog file: %w", err)
	}
	return catalog, nil
}
