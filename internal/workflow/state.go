package workflow

import (
	"errors"
	"fmt"
	"time"

	"archviz-studio/internal/canvas"
	"archviz-studio/internal/prompt"
)

type State int

const (
	StateEmpty State = iota
	StateConfiguring
	StateGenerating
	StateResult
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateConfiguring:
		return "configuring"
	case StateGenerating:
		return "generating"
	case StateResult:
		return "result"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrInvalidTransition = errors.New("invalid workflow transition")

// MissingInputError is returned by Start when the workflow kind needs an
// input that has not been uploaded yet.
type MissingInputError struct {
	Input string
}

func (e *MissingInputError) Error() string {
	return "missing input: " + e.Input
}

type Role string

const (
	RoleSource    Role = "source"
	RoleMask      Role = "mask"
	RoleReference Role = "reference"
)

// Tab is one workflow's state: Empty -> Configuring -> Generating -> Result.
type Tab struct {
	State     State
	Options   prompt.Options
	Source    canvas.EncodedImage
	Mask      canvas.EncodedImage
	Reference canvas.EncodedImage
	Results   []canvas.EncodedImage
	LastError string
	UpdatedAt time.Time
}

func NewTab(kind prompt.Kind) Tab {
	return Tab{
		State:     StateEmpty,
		Options:   prompt.Options{Kind: kind, Count: prompt.DefaultCount},
		UpdatedAt: time.Now(),
	}
}

func (t *Tab) Upload(role Role, img canvas.EncodedImage) error {
	if t.State == StateGenerating {
		return fmt.Errorf("%w: upload while %s", ErrInvalidTransition, t.State)
	}
	if img.IsZero() {
		return errors.New("empty image")
	}
	switch role {
	case RoleSource:
		t.Source = img
	case RoleMask:
		t.Mask = img
	case RoleReference:
		t.Reference = img
	default:
		return fmt.Errorf("unknown image role %q", role)
	}
	t.State = StateConfiguring
	t.LastError = ""
	return nil
}

func (t *Tab) Configure(fn func(*prompt.Options)) error {
	if t.State == StateGenerating {
		return fmt.Errorf("%w: configure while %s", ErrInvalidTransition, t.State)
	}
	if fn != nil {
		fn(&t.Options)
	}
	t.State = StateConfiguring
	return nil
}

// Missing lists the inputs the current kind still needs.
func (t Tab) Missing() []string {
	tpl, ok := prompt.Template(t.Options.Kind)
	if !ok {
		return []string{"workflow"}
	}
	var out []string
	if tpl.NeedsSource && t.Source.IsZero() {
		out = append(out, string(RoleSource))
	}
	if tpl.NeedsMask && t.Mask.IsZero() {
		out = append(out, string(RoleMask))
	}
	if tpl.NeedsReference && t.Reference.IsZero() {
		out = append(out, string(RoleReference))
	}
	if tpl.TextOnly && t.Source.IsZero() && t.Options.Notes == "" {
		out = append(out, "prompt")
	}
	return out
}

func (t *Tab) Start() error {
	if t.State != StateConfiguring && t.State != StateResult {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, t.State)
	}
	if missing := t.Missing(); len(missing) > 0 {
		return &MissingInputError{Input: missing[0]}
	}
	t.State = StateGenerating
	t.LastError = ""
	return nil
}

func (t *Tab) Complete(results []canvas.EncodedImage) error {
	if t.State != StateGenerating {
		return fmt.Errorf("%w: complete while %s", ErrInvalidTransition, t.State)
	}
	t.Results = append([]canvas.EncodedImage(nil), results...)
	t.State = StateResult
	return nil
}

// Fail returns a generating tab to Configuring so the user can retry with the
// same inputs.
func (t *Tab) Fail(err error) error {
	if t.State != StateGenerating {
		return fmt.Errorf("%w: fail while %s", ErrInvalidTransition, t.State)
	}
	if err != nil {
		t.LastError = err.Error()
	}
	t.State = StateConfiguring
	return nil
}

func (t *Tab) Reset() {
	*t = NewTab(t.Options.Kind)
}
