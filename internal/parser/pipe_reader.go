package parser

import (
	"bufio"
	"io"
	"sync/atomic"
)

// maxLineSize bounds a single output line; longer lines are split by the scanner.
const maxLineSize = 1024 * 1024

// PipeReader reads lines from an io.Reader (the process's combined output
// pipe). Partial writes are buffered by the scanner, so a line split across
// several reads is still delivered whole.
type PipeReader struct {
	reader   io.Reader
	pipeline *Pipeline
	taps     []LineParser

	bytesRead atomic.Int64
	linesRead atomic.Int64
}

// NewPipeReader creates a new pipe-based line source. Every line is first
// passed synchronously to each tap, then offered to the pipeline (which may
// drop it). pipeline may be nil when only taps are needed.
func NewPipeReader(r io.Reader, pipeline *Pipeline, taps ...LineParser) *PipeReader {
	return &PipeReader{
		reader:   r,
		pipeline: pipeline,
		taps:     taps,
	}
}

// Run reads lines until EOF or a read error.
func (p *PipeReader) Run() {
	if p.pipeline != nil {
		defer p.pipeline.CloseChannel()
	}

	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		p.bytesRead.Add(int64(len(line) + 1))
		p.linesRead.Add(1)

		for _, tap := range p.taps {
			tap.ParseLine(line)
		}
		if p.pipeline != nil {
			p.pipeline.FeedLine(line)
		}
	}
}

// Stats returns the bytes and lines read so far, newlines included.
func (p *PipeReader) Stats() (bytesRead, linesRead int64) {
	return p.bytesRead.Load(), p.linesRead.Load()
}
