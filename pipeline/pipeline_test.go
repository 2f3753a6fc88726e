package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type dispatchCall struct {
	kind    Kind
	name    string
	locale  string
	content string
}

// fakeDispatcher records upload calls; failFor marks logical names
// whose uploads fail.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	failFor map[string]bool
}

func (d *fakeDispatcher) UpdateTemplate(ctx context.Context, name, locale, content string) error {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{kind: KindTemplate, name: name, locale: locale, content: content})
	d.mu.Unlock()
	if d.failFor[name] {
		return errors.New("upload rejected")
	}
	return nil
}

func (d *fakeDispatcher) UpdateStyle(ctx context.Context, name, content string) error {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{kind: KindStyle, name: name, content: content})
	d.mu.Unlock()
	if d.failFor[name] {
		return errors.New("upload rejected")
	}
	return nil
}

func (d *fakeDispatcher) byKind(kind Kind) []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dispatchCall
	for _, c := range d.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// fakeTranslator tags content with the locale so translated uploads are
// distinguishable from raw ones.
type fakeTranslator struct {
	mu    sync.Mutex
	calls int
}

func (tr *fakeTranslator) Resolve(text, sourcePath, locale string) string {
	tr.mu.Lock()
	tr.calls++
	tr.mu.Unlock()
	return text + "|" + locale
}

func (tr *fakeTranslator) callCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.calls
}

// blockingDispatcher signals when an upload starts and holds it open
// until released, so tests can observe in-flight dispatches.
type blockingDispatcher struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDispatcher) UpdateTemplate(ctx context.Context, name, locale, content string) error {
	d.started <- struct{}{}
	<-d.release
	return nil
}

func (d *blockingDispatcher) UpdateStyle(ctx context.Context, name, content string) error {
	d.started <- struct{}{}
	<-d.release
	return nil
}

// writeWorkDir creates a directory with template and style fixtures and
// returns pipeline options pointed at it.
func writeWorkDir(t *testing.T, files map[string]string) Options {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return Options{
		TemplateGlob: filepath.Join(dir, "*.j2"),
		StyleGlob:    filepath.Join(dir, "*.css"),
	}
}

// ---------------------------------------------------------------------------
// Stage tests
// ---------------------------------------------------------------------------

func TestFanOut(t *testing.T) {
	in := make(chan FileRecord, 2)
	in <- FileRecord{LogicalName: "a", Kind: KindTemplate}
	in <- FileRecord{LogicalName: "b", Kind: KindTemplate}
	close(in)

	recs := collect(fanOut(context.Background(), in, []string{"en_US", "fr_FR"}))

	want := []struct{ name, locale string }{
		{"a", "en_US"}, {"a", "fr_FR"},
		{"b", "en_US"}, {"b", "fr_FR"},
	}
	if len(recs) != len(want) {
		t.Fatalf("got %d records, want %d", len(recs), len(want))
	}
	for i, w := range want {
		if recs[i].LogicalName != w.name || recs[i].Locale != w.locale {
			t.Fatalf("record %d = %s/%s, want %s/%s",
				i, recs[i].LogicalName, recs[i].Locale, w.name, w.locale)
		}
	}
}

func TestFanOutCopiesRecords(t *testing.T) {
	in := make(chan FileRecord, 1)
	in <- FileRecord{LogicalName: "a", Kind: KindTemplate, Content: "original"}
	close(in)

	recs := collect(fanOut(context.Background(), in, []string{"en", "fr"}))
	recs[0].Content = "mutated"
	if recs[1].Content != "original" {
		t.Fatalf("Content = %q, want independent copies", recs[1].Content)
	}
}

func TestTranslateStage(t *testing.T) {
	in := make(chan FileRecord, 2)
	in <- FileRecord{LogicalName: "a", Kind: KindTemplate, Locale: "en_US", Path: "a.j2", Content: "hello"}
	in <- FileRecord{LogicalName: "s", Kind: KindStyle, Path: "s.css", Content: "css"}
	close(in)

	tr := &fakeTranslator{}
	recs := collect(translateStage(context.Background(), in, tr))

	if recs[0].Content != "hello|en_US" {
		t.Fatalf("translated content = %q, want %q", recs[0].Content, "hello|en_US")
	}
	// Records without a locale pass through untouched.
	if recs[1].Content != "css" {
		t.Fatalf("style content = %q, want unchanged", recs[1].Content)
	}
	if tr.callCount() != 1 {
		t.Fatalf("translator calls = %d, want 1", tr.callCount())
	}
}

// ---------------------------------------------------------------------------
// Run tests
// ---------------------------------------------------------------------------

func TestRunEndToEnd(t *testing.T) {
	opts := writeWorkDir(t, map[string]string{
		"a.j2":  "template a",
		"b.j2":  "template b",
		"c.css": "body {}",
	})

	dispatcher := &fakeDispatcher{}
	translator := &fakeTranslator{}
	opts.Locales = []string{"en_US", "fr_FR"}
	opts.Dispatcher = dispatcher
	opts.Translator = translator

	summary, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := Summary{Dispatched: 5, Succeeded: 5, Failed: 0}
	if summary != want {
		t.Fatalf("Run() = %+v, want %+v", summary, want)
	}

	templates := dispatcher.byKind(KindTemplate)
	if len(templates) != 4 {
		t.Fatalf("got %d template uploads, want 4", len(templates))
	}
	seen := make(map[string]bool)
	for _, c := range templates {
		seen[c.name+"/"+c.locale] = true
		wantContent := "template " + c.name + "|" + c.locale
		if c.content != wantContent {
			t.Fatalf("upload %s/%s content = %q, want %q", c.name, c.locale, c.content, wantContent)
		}
	}
	for _, pair := range []string{"a/en_US", "a/fr_FR", "b/en_US", "b/fr_FR"} {
		if !seen[pair] {
			t.Fatalf("missing template upload %s; got %v", pair, seen)
		}
	}

	styles := dispatcher.byKind(KindStyle)
	if len(styles) != 1 {
		t.Fatalf("got %d style uploads, want 1", len(styles))
	}
	if styles[0].locale != "" {
		t.Fatalf("style upload has locale %q, want none", styles[0].locale)
	}
	if filepath.Base(styles[0].name) != "c.css" {
		t.Fatalf("style identifier = %q, want the file path", styles[0].name)
	}
	if styles[0].content != "body {}" {
		t.Fatalf("style content = %q, want raw file content", styles[0].content)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	opts := writeWorkDir(t, map[string]string{
		"a.j2": "template a",
		"b.j2": "template b",
		"c.j2": "template c",
	})

	dispatcher := &fakeDispatcher{failFor: map[string]bool{"b": true}}
	opts.Locales = []string{"en_US"}
	opts.SkipTranslation = true
	opts.Dispatcher = dispatcher

	var (
		failMu   sync.Mutex
		failures []string
	)
	opts.OnError = func(rec FileRecord, err error) {
		failMu.Lock()
		failures = append(failures, rec.LogicalName)
		failMu.Unlock()
	}

	summary, err := Run(context.Background(), opts)
	if err == nil {
		t.Fatal("Run() error = nil, want failure error")
	}
	if got := err.Error(); got != "1 of 3 updates failed" {
		t.Fatalf("Run() error = %q", got)
	}

	want := Summary{Dispatched: 3, Succeeded: 2, Failed: 1}
	if summary != want {
		t.Fatalf("Run() = %+v, want %+v", summary, want)
	}
	if len(failures) != 1 || failures[0] != "b" {
		t.Fatalf("failures = %v, want [b]", failures)
	}
	// Every sibling was still attempted.
	if len(dispatcher.calls) != 3 {
		t.Fatalf("got %d dispatches, want 3", len(dispatcher.calls))
	}
}

func TestRunSkipTranslation(t *testing.T) {
	opts := writeWorkDir(t, map[string]string{"a.j2": "raw content"})

	dispatcher := &fakeDispatcher{}
	translator := &fakeTranslator{}
	opts.Locales = []string{"en_US"}
	opts.SkipTranslation = true
	opts.Dispatcher = dispatcher
	opts.Translator = translator

	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if translator.callCount() != 0 {
		t.Fatalf("translator calls = %d, want 0", translator.callCount())
	}
	if dispatcher.calls[0].content != "raw content" {
		t.Fatalf("content = %q, want untranslated input", dispatcher.calls[0].content)
	}
}

func TestRunPacingDelaysEveryDispatch(t *testing.T) {
	opts := writeWorkDir(t, map[string]string{
		"a.j2":  "a",
		"b.css": "b",
	})

	dispatcher := &fakeDispatcher{}
	opts.Locales = []string{"en_US"}
	opts.SkipTranslation = true
	opts.Delay = 30 * time.Millisecond
	opts.Dispatcher = dispatcher

	start := time.Now()
	summary, err := Run(context.Background(), opts)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Dispatched != 2 {
		t.Fatalf("Dispatched = %d, want 2", summary.Dispatched)
	}
	// One delay per item, including the first.
	if elapsed < 60*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least 60ms", elapsed)
	}
}

func TestRunCancelledBeforeFirstDispatch(t *testing.T) {
	opts := writeWorkDir(t, map[string]string{"a.j2": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dispatcher := &fakeDispatcher{}
	opts.Locales = []string{"en_US"}
	opts.SkipTranslation = true
	opts.Delay = time.Hour
	opts.Dispatcher = dispatcher

	summary, err := Run(ctx, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if summary.Dispatched != 0 {
		t.Fatalf("Dispatched = %d, want 0", summary.Dispatched)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("got %d dispatches after cancellation, want 0", len(dispatcher.calls))
	}
}

func TestRunWaitsForInFlightDispatchOnCancel(t *testing.T) {
	opts := writeWorkDir(t, map[string]string{"a.j2": "a"})

	dispatcher := &blockingDispatcher{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	opts.Locales = []string{"en_US"}
	opts.SkipTranslation = true
	opts.Dispatcher = dispatcher

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		summary Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := Run(ctx, opts)
		done <- result{summary, err}
	}()

	// Wait until the upload is in flight, then cancel the run.
	<-dispatcher.started
	cancel()

	// Run must keep waiting for the in-flight call to settle.
	select {
	case <-done:
		t.Fatal("Run() returned while a dispatch was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(dispatcher.release)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after the dispatch settled")
	}

	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", res.err)
	}
	// The in-flight item settled and is counted.
	want := Summary{Dispatched: 1, Succeeded: 1, Failed: 0}
	if res.summary != want {
		t.Fatalf("Run() = %+v, want %+v", res.summary, want)
	}
}

func TestRunBadGlob(t *testing.T) {
	opts := Options{
		TemplateGlob: "[",
		StyleGlob:    filepath.Join(t.TempDir(), "*.css"),
		Locales:      []string{"en_US"},
		Dispatcher:   &fakeDispatcher{},
		Translator:   &fakeTranslator{},
	}
	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatal("Run() error = nil, want bad pattern error")
	}
}

func TestRunProgressCallback(t *testing.T) {
	opts := writeWorkDir(t, map[string]string{"a.j2": "a"})

	dispatcher := &fakeDispatcher{}
	opts.Locales = []string{"en_US", "fr_FR"}
	opts.SkipTranslation = true
	opts.Dispatcher = dispatcher

	var progressed []string
	opts.OnProgress = func(rec FileRecord) {
		progressed = append(progressed, fmt.Sprintf("%s/%s", rec.LogicalName, rec.Locale))
	}

	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantOrder := []string{"a/en_US", "a/fr_FR"}
	if len(progressed) != len(wantOrder) {
		t.Fatalf("progress calls = %v, want %v", progressed, wantOrder)
	}
	for i, w := range wantOrder {
		if progressed[i] != w {
			t.Fatalf("progress order = %v, want %v", progressed, wantOrder)
		}
	}
}
