package parser

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// slowParser simulates a parser that can't keep up with input.
type slowParser struct {
	delay time.Duration
	lines []string
	mu    sync.Mutex
}

func (p *slowParser) ParseLine(line string) {
	time.Sleep(p.delay)
	p.mu.Lock()
	p.lines = append(p.lines, line)
	p.mu.Unlock()
}

// countingParser counts lines without delay.
type countingParser struct {
	count int64
	mu    sync.Mutex
}

func (p *countingParser) ParseLine(string) {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
}

func (p *countingParser) Count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// runPipeline feeds input through a PipeReader into pipeline and waits for
// both layers to finish.
func runPipeline(pipeline *Pipeline, input string, parser LineParser, taps ...LineParser) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		NewPipeReader(strings.NewReader(input), pipeline, taps...).Run()
	}()
	go func() {
		defer wg.Done()
		pipeline.RunParser(parser)
	}()

	wg.Wait()
}

func TestPipeline_DropsUnderPressure(t *testing.T) {
	pipeline := NewPipeline("test", 5, 0.01)
	parser := &slowParser{delay: 10 * time.Millisecond}

	runPipeline(pipeline, strings.Repeat("line\n", 100), parser)

	read, dropped, parsed := pipeline.Stats()
	if read != 100 {
		t.Errorf("read = %d, want 100", read)
	}
	if dropped == 0 {
		t.Error("expected some lines to be dropped with slow parser and small buffer")
	}
	if parsed+dropped != read {
		t.Errorf("parsed(%d) + dropped(%d) != read(%d)", parsed, dropped, read)
	}
	if !pipeline.IsDegraded() {
		t.Error("pipeline should report degraded after heavy drops")
	}
}

func TestPipeline_NoDropsWhenFast(t *testing.T) {
	pipeline := NewPipeline("test", 1000, 0.01)
	parser := &countingParser{}

	runPipeline(pipeline, strings.Repeat("line\n", 100), parser)

	read, dropped, parsed := pipeline.Stats()
	if read != 100 || dropped != 0 || parsed != 100 {
		t.Errorf("Stats() = (%d, %d, %d), want (100, 0, 100)", read, dropped, parsed)
	}
	if rate := pipeline.DropRate(); rate != 0 {
		t.Errorf("DropRate() = %v, want 0", rate)
	}
}

func TestPipeReader_TapsSeeEveryLine(t *testing.T) {
	// Tiny buffer and a slow parser: the pipeline drops, taps must not.
	pipeline := NewPipeline("test", 1, 0.01)
	tap := &countingParser{}

	runPipeline(pipeline, strings.Repeat("line\n", 200), &slowParser{delay: time.Millisecond}, tap)

	if got := tap.Count(); got != 200 {
		t.Errorf("tap saw %d lines, want 200", got)
	}
}

func TestPipeReader_NilPipeline(t *testing.T) {
	tap := &countingParser{}
	r := NewPipeReader(strings.NewReader("a\nb\nc"), nil, tap)
	r.Run()

	if tap.Count() != 3 {
		t.Errorf("tap saw %d lines, want 3", tap.Count())
	}
	bytesRead, linesRead := r.Stats()
	if linesRead != 3 || bytesRead != 6 {
		t.Errorf("Stats() = (%d, %d), want (6, 3)", bytesRead, linesRead)
	}
}

func TestPipeline_DefaultValues(t *testing.T) {
	pipeline := NewPipeline("test", 0, 0)

	if pipeline.bufferSize < 1 {
		t.Errorf("bufferSize = %d, want >= 1", pipeline.bufferSize)
	}
	if pipeline.dropThreshold <= 0 {
		t.Errorf("dropThreshold = %v, want > 0", pipeline.dropThreshold)
	}
	if pipeline.Name() != "test" {
		t.Errorf("Name() = %q, want %q", pipeline.Name(), "test")
	}
}

func TestPipeline_CloseChannelIdempotent(t *testing.T) {
	pipeline := NewPipeline("test", 10, 0.01)
	pipeline.CloseChannel()
	pipeline.CloseChannel()
}

func TestLineParserFunc(t *testing.T) {
	var got string
	LineParserFunc(func(line string) { got = line }).ParseLine("x")
	if got != "x" {
		t.Errorf("got %q, want %q", got, "x")
	}
	var noop NoopParser
	noop.ParseLine("ignored")
}
