// Package registry holds the set of object classes that we detect, along with
// how they are presented to the user.
package registry

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/cyclopcam/lookout/pkg/nn"
)

// A raw detection must score strictly above this to be accepted
const ScoreThreshold = 0.4

const (
	LocaleIndonesian = "id"
	LocaleEnglish    = "en"
)

// DefaultColor is used for labels that have no registry entry
var DefaultColor = color.RGBA{0x00, 0xff, 0x00, 0xff}

// Object is one supported class
type Object struct {
	Label       string `json:"label"`       // Label as emitted by the model, eg "cell phone"
	DisplayName string `json:"displayName"` // Localized name shown to the user
	Color       string `json:"color"`       // eg "#4ecdc4"
}

type Registry struct {
	objects []Object
	byLabel map[string]int
	colors  []color.RGBA
}

var displayNames = map[string]map[string]string{
	LocaleIndonesian: {
		"person":     "wajah",
		"cell phone": "ponsel",
		"bottle":     "botol",
		"backpack":   "tas punggung",
		"fork":       "garpu",
		"book":       "buku",
	},
	LocaleEnglish: {
		"person":     "person",
		"cell phone": "phone",
		"bottle":     "bottle",
		"backpack":   "backpack",
		"fork":       "fork",
		"book":       "book",
	},
}

var defaultObjects = []Object{
	{Label: "person", Color: "#ff6b6b"},
	{Label: "cell phone", Color: "#4ecdc4"},
	{Label: "bottle", Color: "#45b7d1"},
	{Label: "backpack", Color: "#f9ca24"},
	{Label: "fork", Color: "#6c5ce7"},
	{Label: "book", Color: "#fd79a8"},
}

// Create a registry from an explicit object list.
// Labels are stored lowercase, and must be unique.
func New(objects []Object) (*Registry, error) {
	r := &Registry{
		byLabel: map[string]int{},
	}
	for _, obj := range objects {
		obj.Label = strings.ToLower(strings.TrimSpace(obj.Label))
		if obj.Label == "" {
			return nil, fmt.Errorf("Object label may not be empty")
		}
		if _, exists := r.byLabel[obj.Label]; exists {
			return nil, fmt.Errorf("Duplicate object label '%v'", obj.Label)
		}
		c, err := ParseHexColor(obj.Color)
		if err != nil {
			return nil, fmt.Errorf("Invalid color for '%v': %w", obj.Label, err)
		}
		if obj.DisplayName == "" {
			obj.DisplayName = obj.Label
		}
		r.byLabel[obj.Label] = len(r.objects)
		r.objects = append(r.objects, obj)
		r.colors = append(r.colors, c)
	}
	return r, nil
}

// Create the default registry, with display names in the given locale
func ForLocale(locale string) (*Registry, error) {
	if locale == "" {
		locale = LocaleIndonesian
	}
	names, ok := displayNames[locale]
	if !ok {
		return nil, fmt.Errorf("Unsupported locale '%v'", locale)
	}
	objects := make([]Object, len(defaultObjects))
	for i, obj := range defaultObjects {
		obj.DisplayName = names[obj.Label]
		objects[i] = obj
	}
	return New(objects)
}

// Default is the Indonesian registry
func Default() *Registry {
	r, err := ForLocale(LocaleIndonesian)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Objects() []Object {
	return append([]Object(nil), r.objects...)
}

func (r *Registry) Labels() []string {
	labels := make([]string, len(r.objects))
	for i, obj := range r.objects {
		labels[i] = obj.Label
	}
	return labels
}

// Supports reports whether the label is in the allow-list. Matching is exact.
func (r *Registry) Supports(label string) bool {
	_, ok := r.byLabel[label]
	return ok
}

// DisplayName returns the localized name of label, or label itself if it is not registered.
func (r *Registry) DisplayName(label string) string {
	if idx, ok := r.byLabel[label]; ok {
		return r.objects[idx].DisplayName
	}
	return label
}

// Color returns the display color of label, or DefaultColor if it is not registered.
func (r *Registry) Color(label string) color.RGBA {
	if idx, ok := r.byLabel[label]; ok {
		return r.colors[idx]
	}
	return DefaultColor
}

// Filter keeps the raw detections whose class is supported and whose score exceeds ScoreThreshold.
// Order is preserved. Every kept label has a registry entry.
func (r *Registry) Filter(raw []nn.RawDetection) []nn.Detection {
	kept := make([]nn.Detection, 0, len(raw))
	for _, d := range raw {
		if !r.Supports(d.Class) || d.Score <= ScoreThreshold {
			continue
		}
		kept = append(kept, nn.Detection{
			Label:      d.Class,
			Confidence: d.Score,
			Box:        d.Box,
		})
	}
	return kept
}

// ParseHexColor parses "#rrggbb" or "#rrggbbaa"
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 && len(s) != 8 {
		return color.RGBA{}, fmt.Errorf("Expected #rrggbb, but got '%v'", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, err
	}
	if len(s) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}
