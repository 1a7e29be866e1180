package prompt

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindExterior  Kind = "exterior"
	KindInterior  Kind = "interior"
	KindFloorplan Kind = "floorplan"
	KindTour      Kind = "tour"
	KindEdit      Kind = "edit"
	KindStyle     Kind = "style"
	KindDiagram   Kind = "diagram"
	KindOutpaint  Kind = "outpaint"
)

var kindOrder = []Kind{
	KindExterior,
	KindInterior,
	KindFloorplan,
	KindTour,
	KindEdit,
	KindStyle,
	KindDiagram,
	KindOutpaint,
}

func Kinds() []Kind {
	return append([]Kind(nil), kindOrder...)
}

func (k Kind) Valid() bool {
	_, ok := kindTemplates[k]
	return ok
}

func ParseKind(value string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(value)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown workflow %q", value)
	}
	return k, nil
}

// KindTemplate describes what a workflow needs as input and how its prompt opens.
type KindTemplate struct {
	Title          string
	Lead           string
	Rules          []string
	NeedsSource    bool
	NeedsMask      bool
	NeedsReference bool
	// TextOnly workflows may run without any source image (Imagen text-to-image).
	TextOnly bool
}

var kindTemplates = map[Kind]KindTemplate{
	KindExterior: {
		Title: "Exterior render",
		Lead:  "Turn the attached sketch, massing model or site photo into a photorealistic exterior architectural render.",
		Rules: []string{
			"Keep the building footprint, massing, openings and camera position exactly as supplied.",
			"Add believable context: landscaping, sky, ground materials and soft shadows.",
		},
		TextOnly: true,
	},
	KindInterior: {
		Title: "Interior render",
		Lead:  "Turn the attached room photo or sketch into a photorealistic interior render.",
		Rules: []string{
			"Keep walls, windows, ceiling height and camera perspective unchanged.",
			"Furnish and light the space coherently; no people unless asked.",
		},
		TextOnly: true,
	},
	KindFloorplan: {
		Title: "Floor plan to 3D",
		Lead:  "Convert the attached 2D floor plan into a top-down 3D cutaway visualisation.",
		Rules: []string{
			"Room layout, wall thickness and door swings must match the plan.",
			"Furnish each room according to its apparent function.",
		},
		NeedsSource: true,
	},
	KindTour: {
		Title: "Virtual tour frame",
		Lead:  "Render an eye-level walkthrough frame of the space shown in the attached image.",
		Rules: []string{
			"Camera at 1.6 m height, natural perspective, no fisheye.",
			"Stay consistent with the materials visible in the source.",
		},
		NeedsSource: true,
	},
	KindEdit: {
		Title: "Masked edit",
		Lead:  "Edit only the masked region of the attached image.",
		Rules: []string{
			"Pixels outside the white area of the mask must stay untouched.",
			"Blend lighting and perspective of the edit with the surrounding image.",
		},
		NeedsSource: true,
		NeedsMask:   true,
	},
	KindStyle: {
		Title: "Style transfer",
		Lead:  "Restyle the target image using the materials, palette and mood of the reference image.",
		Rules: []string{
			"The first image is the style reference; the second is the target.",
			"Keep the target's geometry and composition; transfer only the look.",
		},
		NeedsSource:    true,
		NeedsReference: true,
	},
	KindDiagram: {
		Title: "Presentation diagram",
		Lead:  "Produce a clean architectural presentation diagram from the attached image.",
		Rules: []string{
			"Use flat colours, thin line work and a light background.",
			"No labels or text unless asked.",
		},
		NeedsSource: true,
	},
	KindOutpaint: {
		Title: "Outpaint",
		Lead:  "Extend the attached image into the black border so the scene fills the whole frame.",
		Rules: []string{
			"The original picture sits inside the frame and must not change.",
			"Continue perspective, horizon and materials seamlessly into the new area.",
		},
		NeedsSource: true,
	},
}

func Template(k Kind) (KindTemplate, bool) {
	t, ok := kindTemplates[k]
	if ok {
		t.Rules = append([]string(nil), t.Rules...)
	}
	return t, ok
}

type NamedOption struct {
	Key  string
	Name string
}

type stylePreset struct {
	Name string
	Add  []string
}

var stylePresets = map[string]stylePreset{
	"photoreal": {
		Name: "Photoreal",
		Add:  []string{"physically based materials", "natural daylight", "full-frame camera look"},
	},
	"dusk": {
		Name: "Blue hour",
		Add:  []string{"dusk sky gradient", "warm interior lights glowing through windows", "long soft shadows"},
	},
	"scandinavian": {
		Name: "Scandinavian",
		Add:  []string{"light oak and white plaster", "linen textiles", "diffuse north light"},
	},
	"brutalist": {
		Name: "Brutalist",
		Add:  []string{"board-formed concrete", "deep reveals", "hard raking light"},
	},
	"watercolor": {
		Name: "Watercolour sketch",
		Add:  []string{"loose watercolour washes", "pencil underdrawing visible", "paper texture"},
	},
	"clay": {
		Name: "Clay model",
		Add:  []string{"monochrome white clay material", "ambient occlusion", "studio backdrop"},
	},
}

func Styles() []NamedOption {
	order := []string{"", "photoreal", "dusk", "scandinavian", "brutalist", "watercolor", "clay"}

	out := make([]NamedOption, 0, len(order))
	out = append(out, NamedOption{Key: "", Name: "Default"})
	for _, key := range order[1:] {
		if s, ok := stylePresets[key]; ok {
			out = append(out, NamedOption{Key: key, Name: s.Name})
		}
	}
	return out
}

func ValidStyle(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return true
	}
	_, ok := stylePresets[key]
	return ok
}
