package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"archviz-studio/internal/canvas"
)

const (
	DefaultCount = 1
	MaxCount     = 4
)

type Options struct {
	Kind        Kind
	Style       string
	Notes       string
	AspectRatio canvas.AspectRatio
	Count       int
}

type Preset struct {
	Kind        Kind
	Count       int
	AspectRatio canvas.AspectRatio
	Template    KindTemplate
	StyleName   string
}

func ResolvePreset(opts Options) Preset {
	kind := opts.Kind
	tpl, ok := Template(kind)
	if !ok {
		kind = KindExterior
		tpl, _ = Template(kind)
	}

	count := opts.Count
	if count < 1 {
		count = DefaultCount
	}
	if count > MaxCount {
		count = MaxCount
	}

	p := Preset{Kind: kind, Count: count, Template: tpl}
	if opts.AspectRatio.Valid() {
		p.AspectRatio = opts.AspectRatio
	}
	if s, ok := stylePresets[strings.ToLower(strings.TrimSpace(opts.Style))]; ok {
		p.StyleName = s.Name
	}
	return p
}

// ParseArgs reads free-form bot arguments such as "dusk ar=16:9 x2 more glass".
// Unrecognised tokens become notes.
func ParseArgs(raw string, defaults Options) Options {
	opts := defaults
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return opts
	}

	var notes []string
	for _, tok := range strings.Fields(raw) {
		orig := tok
		tok = strings.ToLower(tok)

		if k := Kind(tok); k.Valid() {
			opts.Kind = k
			continue
		}
		if strings.HasPrefix(tok, "style=") {
			tok = strings.TrimPrefix(tok, "style=")
		}
		if _, ok := stylePresets[tok]; ok {
			opts.Style = tok
			continue
		}
		if strings.HasPrefix(tok, "ar=") || strings.HasPrefix(tok, "aspect=") {
			tok = strings.TrimPrefix(strings.TrimPrefix(tok, "aspect="), "ar=")
		}
		if ar, err := canvas.ParseAspectRatio(tok); err == nil {
			opts.AspectRatio = ar
			continue
		}
		if strings.HasPrefix(tok, "x") && len(tok) == 2 {
			if n, err := strconv.Atoi(tok[1:]); err == nil && n >= 1 && n <= MaxCount {
				opts.Count = n
				continue
			}
		}

		notes = append(notes, orig)
	}

	if len(notes) > 0 {
		opts.Notes = strings.TrimSpace(strings.Join(notes, " "))
	}
	return opts
}

func Build(opts Options) (string, Preset) {
	p := ResolvePreset(opts)
	tpl := p.Template

	var b strings.Builder
	b.Grow(1024)

	b.WriteString("TASK: " + tpl.Title + ".\n")
	b.WriteString(tpl.Lead + "\n\n")

	b.WriteString("RULES:\n")
	for _, line := range uniq(tpl.Rules) {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n")

	if style, ok := stylePresets[strings.ToLower(strings.TrimSpace(opts.Style))]; ok {
		b.WriteString("STYLE: " + style.Name + "\n")
		for _, line := range style.Add {
			b.WriteString("- " + line + "\n")
		}
		b.WriteString("\n")
	}

	if notes := strings.TrimSpace(opts.Notes); notes != "" {
		b.WriteString("NOTES:\n")
		b.WriteString("- " + notes + "\n\n")
	}

	b.WriteString("OUTPUT:\n")
	if p.AspectRatio.Valid() {
		b.WriteString(fmt.Sprintf("- Aspect ratio: %s.\n", p.AspectRatio))
	}
	b.WriteString("- Full-bleed image, no borders, no watermark, no text overlays.\n")
	b.WriteString("- Return the image only. No JSON, no code.\n")

	return strings.TrimSpace(b.String()), p
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
