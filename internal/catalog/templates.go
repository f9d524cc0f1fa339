// Package catalog builds and publishes the daily story cohort.
//
// Templates are read from YAML or CUE, checked against an embedded CUE
// schema, and turned into content-addressed stories for a publish date.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/storygate/internal/story"
)

//go:embed schema.cue
var schemaCUE string

//go:embed defaults.yaml
var defaultsYAML []byte

// Template is one slot of a daily cohort.
type Template struct {
	Position int    `json:"position" yaml:"position"`
	Title    string `json:"title" yaml:"title"`
	Content  string `json:"content" yaml:"content"`
}

type templateFile struct {
	Templates []Template `json:"templates" yaml:"templates"`
}

// TemplateError is a template that failed to load or validate.
type TemplateError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *TemplateError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DefaultTemplates returns the built-in five-story lineup.
func DefaultTemplates() []Template {
	ts, err := ParseYAML(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in templates are invalid: %v", err))
	}
	return ts
}

// LoadTemplates reads templates from a .yaml, .yml or .cue file.
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(data, path)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("read templates: unsupported file type %q", filepath.Ext(path))
	}
}

// ParseYAML decodes a YAML template file. Unknown fields are rejected.
func ParseYAML(data []byte) ([]Template, error) {
	var f templateFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.Encode(f)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return validate(ctx, v)
}

// ParseCUE compiles a CUE template file.
func ParseCUE(data []byte, filename string) ([]Template, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return validate(ctx, v)
}

// validate unifies v with the schema and checks what CUE cannot express.
func validate(ctx *cue.Context, v cue.Value) ([]Template, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#File")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var f templateFile
	if err := unified.Decode(&f); err != nil {
		return nil, formatCUEError(err)
	}

	if len(f.Templates) == 0 {
		return nil, &TemplateError{Field: "templates", Message: "at least one template is required"}
	}
	seen := make(map[int]bool, len(f.Templates))
	for i := range f.Templates {
		t := &f.Templates[i]
		if seen[t.Position] {
			return nil, &TemplateError{
				Field:   fmt.Sprintf("templates[%d].position", i),
				Message: fmt.Sprintf("position %d is used twice", t.Position),
			}
		}
		seen[t.Position] = true
		t.Title = norm.NFC.String(strings.TrimSpace(t.Title))
		t.Content = norm.NFC.String(strings.TrimSpace(t.Content))
	}

	sort.Slice(f.Templates, func(i, j int) bool {
		return f.Templates[i].Position < f.Templates[j].Position
	})
	return f.Templates, nil
}

// Build turns templates into the stories published on date.
func Build(date string, templates []Template) ([]story.Story, error) {
	date, err := story.ParseDate(date)
	if err != nil {
		return nil, err
	}
	stories := make([]story.Story, 0, len(templates))
	for _, t := range templates {
		st, err := story.Normalize(story.Story{
			PublishDate: date,
			Position:    t.Position,
			Title:       t.Title,
			Content:     t.Content,
		})
		if err != nil {
			return nil, fmt.Errorf("build story at position %d: %w", t.Position, err)
		}
		stories = append(stories, st)
	}
	return stories, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &TemplateError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
