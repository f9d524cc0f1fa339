package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/storygate/internal/story"
)

// Writer persists a cohort. Stories that already exist are skipped.
type Writer interface {
	PutCohort(ctx context.Context, stories []story.Story) (int, error)
}

// Result reports one generation run.
type Result struct {
	Date     string `json:"date"`
	Total    int    `json:"total"`
	Inserted int    `json:"inserted"`
}

// Generator publishes a day's cohort from templates.
type Generator struct {
	writer    Writer
	templates []Template
	logger    *slog.Logger
	now       func() time.Time
	onResult  func(Result)
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithTemplates replaces the built-in templates.
func WithTemplates(ts []Template) GeneratorOption {
	return func(g *Generator) { g.templates = ts }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// WithClock sets the clock used to pick today's date.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithResultHook is called after every successful run (e.g. for metrics).
func WithResultHook(fn func(Result)) GeneratorOption {
	return func(g *Generator) { g.onResult = fn }
}

// NewGenerator creates a Generator writing to w.
func NewGenerator(w Writer, opts ...GeneratorOption) *Generator {
	g := &Generator{
		writer: w,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.templates == nil {
		g.templates = DefaultTemplates()
	}
	return g
}

// Generate publishes the cohort for date. Running it twice for the same
// date inserts nothing the second time.
func (g *Generator) Generate(ctx context.Context, date string) (Result, error) {
	stories, err := Build(date, g.templates)
	if err != nil {
		return Result{}, fmt.Errorf("generate: %w", err)
	}
	if len(stories) == 0 {
		return Result{}, fmt.Errorf("generate: no templates")
	}

	inserted, err := g.writer.PutCohort(ctx, stories)
	if err != nil {
		g.logger.Error("story generation failed", "date", date, "error", err)
		return Result{}, fmt.Errorf("generate: %w", err)
	}

	res := Result{Date: stories[0].PublishDate, Total: len(stories), Inserted: inserted}
	g.logger.Info("generated stories", "date", res.Date, "total", res.Total, "inserted", res.Inserted)
	if g.onResult != nil {
		g.onResult(res)
	}
	return res, nil
}

// GenerateToday publishes the cohort for the current UTC date.
func (g *Generator) GenerateToday(ctx context.Context) (Result, error) {
	return g.Generate(ctx, story.Today(g.now()))
}
