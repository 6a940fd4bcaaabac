// Package tagging derives guide tags from manual input, image analysis and
// text analysis, and merges them into one deduplicated, order-stable list.
package tagging

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/anirum-backend/internal/observability"
)

// ImageTagger suggests tags for an image URL.
type ImageTagger interface {
	TagsFromImage(ctx context.Context, imageURL string) ([]string, error)
}

// TextTagger suggests tags for a title and description.
type TextTagger interface {
	TagsFromText(ctx context.Context, title, body string) ([]string, error)
}

// Source names a tag origin.
type Source string

const (
	SourceManual Source = "manual"
	SourceImage  Source = "image"
	SourceText   Source = "text"
)

// Input is everything a guide offers for tagging. Empty fields skip their source.
type Input struct {
	ManualTags []string
	ImageURL   string
	Title      string
	Body       string
}

// Report is the outcome of one aggregation.
type Report struct {
	Tags     []string
	Invoked  []Source
	Failures map[Source]error
}

// AllFailed reports whether every invoked remote source failed.
func (r Report) AllFailed() bool {
	return len(r.Invoked) > 0 && len(r.Failures) == len(r.Invoked)
}

// Pipeline fans out to the remote taggers and merges their results. Either
// tagger may be nil.
type Pipeline struct {
	image ImageTagger
	text  TextTagger
	log   zerolog.Logger
}

func NewPipeline(image ImageTagger, text TextTagger, logger zerolog.Logger) *Pipeline {
	return &Pipeline{image: image, text: text, log: logger}
}

// Aggregate returns manual, image and text tags merged in that order. Source
// failures are logged and contribute nothing.
func (p *Pipeline) Aggregate(ctx context.Context, in Input) []string {
	return p.Run(ctx, in).Tags
}

// Run is Aggregate with per-source detail.
func (p *Pipeline) Run(ctx context.Context, in Input) Report {
	ctx, span := otel.Tracer("tagging/Pipeline").Start(ctx, "Aggregate")
	defer span.End()

	var (
		imageTags, textTags []string
		imageErr, textErr   error
		rep                 = Report{Failures: map[Source]error{}}
		g                   errgroup.Group
	)

	if p.image != nil && strings.TrimSpace(in.ImageURL) != "" {
		rep.Invoked = append(rep.Invoked, SourceImage)
		g.Go(func() error {
			imageTags, imageErr = guarded(func() ([]string, error) { return p.image.TagsFromImage(ctx, in.ImageURL) })
			return nil
		})
	}
	if p.text != nil && strings.TrimSpace(in.Title+in.Body) != "" {
		rep.Invoked = append(rep.Invoked, SourceText)
		g.Go(func() error {
			textTags, textErr = guarded(func() ([]string, error) { return p.text.TagsFromText(ctx, in.Title, in.Body) })
			return nil
		})
	}
	_ = g.Wait()

	for src, err := range map[Source]error{SourceImage: imageErr, SourceText: textErr} {
		if err == nil {
			continue
		}
		rep.Failures[src] = err
		observability.TaggingSourceFailures.WithLabelValues(string(src)).Inc()
		p.log.Warn().Err(err).Str("source", string(src)).Msg("tag source failed")
	}

	rep.Tags = Merge(in.ManualTags, imageTags, textTags)
	span.SetAttributes(
		attribute.Int("tags.count", len(rep.Tags)),
		attribute.Int("tags.failed_sources", len(rep.Failures)),
	)
	if len(rep.Failures) > 0 {
		span.AddEvent("source_failures", trace.WithAttributes(attribute.Int("count", len(rep.Failures))))
	}
	return rep
}

// guarded turns a panicking source into an error.
func guarded(fn func() ([]string, error)) (tags []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			tags, err = nil, fmt.Errorf("tag source panicked: %v", r)
		}
	}()
	return fn()
}
