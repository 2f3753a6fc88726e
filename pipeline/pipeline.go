// Package pipeline implements the bulk synchronization flow behind the
// update-all command: discover local templates and stylesheets, fan
// templates out per locale, inject translations, and upload everything
// to the remote service with a fixed pacing delay between dispatches.
//
// Each record progresses Discovered -> FannedOut (templates only) ->
// Translated (optional) -> Gated -> Dispatched -> Settled. The pacing
// gate serializes the start of each dispatch; the calls themselves run
// concurrently, and one failed upload never prevents the remaining
// uploads from being attempted.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDelay is the pacing delay imposed before each dispatch. It is
// a rate-limit courtesy toward the remote service, not a concurrency
// limit.
const DefaultDelay = 5 * time.Second

// Default glob patterns for discovery in the working directory.
const (
	DefaultTemplateGlob = "*.j2"
	DefaultStyleGlob    = "*.css"
)

// Dispatcher performs the remote upload calls. *api.Client implements it.
type Dispatcher interface {
	UpdateTemplate(ctx context.Context, name, locale, content string) error
	UpdateStyle(ctx context.Context, name, content string) error
}

// Translator substitutes placeholder tokens in template content.
// *translations.Resolver implements it.
type Translator interface {
	Resolve(text, sourcePath, locale string) string
}

// Options configures one pipeline run.
type Options struct {
	// TemplateGlob and StyleGlob select the local files (defaults:
	// DefaultTemplateGlob, DefaultStyleGlob).
	TemplateGlob string
	StyleGlob    string

	// Locales is the ordered locale set templates are fanned out over.
	Locales []string

	// SkipTranslation bypasses the translation stage entirely; no
	// dictionary is ever loaded.
	SkipTranslation bool

	// Delay is the pacing delay before each dispatch. Zero disables
	// pacing; the CLI passes DefaultDelay.
	Delay time.Duration

	// Dispatcher performs the uploads. Required.
	Dispatcher Dispatcher

	// Translator resolves placeholders; ignored when SkipTranslation
	// is set. Required otherwise.
	Translator Translator

	// OnProgress is called immediately before each dispatch.
	OnProgress func(rec FileRecord)
	// OnWarn reports skipped files and other non-fatal conditions.
	OnWarn func(format string, args ...any)
	// OnError reports one item's dispatch failure.
	OnError func(rec FileRecord, err error)
}

func (o *Options) warn(format string, args ...any) {
	if o.OnWarn != nil {
		o.OnWarn(format, args...)
	}
}

// Summary is the settlement count of one run.
type Summary struct {
	// Dispatched is how many records passed the gate.
	Dispatched int
	// Succeeded and Failed partition Dispatched.
	Succeeded int
	Failed    int
}

// Run executes the full synchronization pipeline and blocks until every
// dispatched call has settled. It returns a non-nil error only when at
// least one item failed (or the context was cancelled); sibling items
// are always attempted regardless of individual failures.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.TemplateGlob == "" {
		opts.TemplateGlob = DefaultTemplateGlob
	}
	if opts.StyleGlob == "" {
		opts.StyleGlob = DefaultStyleGlob
	}

	templates, err := discover(ctx, opts.TemplateGlob, KindTemplate, opts.OnWarn)
	if err != nil {
		return Summary{}, err
	}
	styles, err := discover(ctx, opts.StyleGlob, KindStyle, opts.OnWarn)
	if err != nil {
		return Summary{}, err
	}

	templates = fanOut(ctx, templates, opts.Locales)
	if !opts.SkipTranslation {
		templates = translateStage(ctx, templates, opts.Translator)
	}

	stream := mergeStreams(ctx, templates, styles)

	var (
		wg                sync.WaitGroup
		succeeded, failed int64
		dispatched        int
	)

gate:
	for rec := range stream {
		// Pacing gate: one fixed delay per item, in arrival order,
		// before the dispatch starts. The dispatch itself runs
		// asynchronously and may overlap with later items.
		if opts.Delay > 0 {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				break gate
			}
		} else if ctx.Err() != nil {
			break gate
		}

		if opts.OnProgress != nil {
			opts.OnProgress(rec)
		}

		dispatched++
		wg.Add(1)
		go func(rec FileRecord) {
			defer wg.Done()
			if err := dispatch(ctx, opts.Dispatcher, rec); err != nil {
				atomic.AddInt64(&failed, 1)
				if opts.OnError != nil {
					opts.OnError(rec, err)
				}
				return
			}
			atomic.AddInt64(&succeeded, 1)
		}(rec)
	}

	wg.Wait()

	summary := Summary{
		Dispatched: dispatched,
		Succeeded:  int(atomic.LoadInt64(&succeeded)),
		Failed:     int(atomic.LoadInt64(&failed)),
	}

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d of %d updates failed", summary.Failed, summary.Dispatched)
	}
	return summary, nil
}

// dispatch routes one settled record to the right upload call. A style
// record's identifier is its file path; a successful style update is
// the final outcome for that item.
func dispatch(ctx context.Context, d Dispatcher, rec FileRecord) error {
	if rec.Kind == KindTemplate && rec.Locale != "" {
		return d.UpdateTemplate(ctx, rec.LogicalName, rec.Locale, rec.Content)
	}
	return d.UpdateStyle(ctx, rec.Path, rec.Content)
}

// ---------------------------------------------------------------------------
// Stages
// ---------------------------------------------------------------------------

// fanOut expands every template record into one copy per locale, in
// locale-list order, preserving discovery order between templates.
// Records of other kinds would pass through unchanged, but the style
// stream never enters this stage.
func fanOut(ctx context.Context, in <-chan FileRecord, locales []string) <-chan FileRecord {
	out := make(chan FileRecord)
	go func() {
		defer close(out)
		for rec := range in {
			for _, locale := range locales {
				copied := rec
				copied.Locale = locale
				select {
				case out <- copied:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// translateStage applies the Translator to each record's content, keyed
// by the record's own path and locale. Output records are copies.
func translateStage(ctx context.Context, in <-chan FileRecord, tr Translator) <-chan FileRecord {
	out := make(chan FileRecord)
	go func() {
		defer close(out)
		for rec := range in {
			if tr != nil && rec.Locale != "" {
				copied := rec
				copied.Content = tr.Resolve(rec.Content, rec.Path, rec.Locale)
				rec = copied
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// mergeStreams combines two record streams into one. Relative order
// within each input is preserved; interleaving across inputs is not
// deterministic.
func mergeStreams(ctx context.Context, a, b <-chan FileRecord) <-chan FileRecord {
	out := make(chan FileRecord)
	var wg sync.WaitGroup
	forward := func(in <-chan FileRecord) {
		defer wg.Done()
		for rec := range in {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}

	wg.Add(2)
	go forward(a)
	go forward(b)
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
