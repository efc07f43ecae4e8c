// Package parser turns the managed process's output stream into lines and
// hands them to line parsers.
//
// Two paths exist. Taps run synchronously on the reader goroutine and see
// every line; they are for cheap, must-not-miss matching such as endpoint
// discovery. The Pipeline path is lossy: a bounded channel decouples a slow
// consumer (logging) from the reader so the child process is never blocked
// on a full pipe.
package parser

import (
	"sync"
	"sync/atomic"
)

// LineParser consumes lines of process output.
type LineParser interface {
	ParseLine(line string)
}

// LineParserFunc adapts a function to LineParser.
type LineParserFunc func(line string)

// ParseLine calls f(line).
func (f LineParserFunc) ParseLine(line string) { f(line) }

// Pipeline is a bounded, lossy line queue between a reader and a parser.
// If the parser cannot keep up, lines are dropped rather than blocking the
// writer.
type Pipeline struct {
	name       string
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once

	linesRead    int64
	linesDropped int64
	linesParsed  int64

	dropThreshold float64
}

// NewPipeline creates a lossy parsing pipeline.
//
// Parameters:
//   - name: stream identifier used in logs ("output")
//   - bufferSize: channel buffer size (lines)
//   - dropThreshold: fraction (0.0-1.0) above which the stream is degraded
func NewPipeline(name string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}

	return &Pipeline{
		name:          name,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine queues a line. Returns false if it was dropped (channel full).
func (p *Pipeline) FeedLine(line string) bool {
	atomic.AddInt64(&p.linesRead, 1)

	select {
	case p.lineChan <- line:
		return true
	default:
		atomic.AddInt64(&p.linesDropped, 1)
		return false
	}
}

// CloseChannel closes the line channel, which ends RunParser.
// Must be called by the data source when it is done. Idempotent.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunParser consumes lines at its own pace until CloseChannel.
// MUST run in a dedicated goroutine.
func (p *Pipeline) RunParser(parser LineParser) {
	for line := range p.lineChan {
		parser.ParseLine(line)
		atomic.AddInt64(&p.linesParsed, 1)
	}
}

// Stats returns (read, dropped, parsed) line counts.
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return atomic.LoadInt64(&p.linesRead),
		atomic.LoadInt64(&p.linesDropped),
		atomic.LoadInt64(&p.linesParsed)
}

// DropRate returns the current drop rate as a fraction (0.0 to 1.0).
func (p *Pipeline) DropRate() float64 {
	read := atomic.LoadInt64(&p.linesRead)
	if read == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&p.linesDropped)) / float64(read)
}

// IsDegraded returns true if the drop rate exceeds the configured threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// Name returns the stream identifier.
func (p *Pipeline) Name() string {
	return p.name
}

// NoopParser is a parser that does nothing.
type NoopParser struct{}

// ParseLine does nothing.
func (NoopParser) ParseLine(string) {}
