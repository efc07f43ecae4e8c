package parser

import (
	"regexp"
	"strconv"
	"sync"
)

// listenPattern matches the line clicker prints once its websocket server is
// bound, e.g. "Server listening on ws://localhost:9515".
var listenPattern = regexp.MustCompile(`Server listening on (wss?)://([^\s:/]+):(\d+)`)

// ListenAddr is the address announced by a listen line.
type ListenAddr struct {
	Scheme string
	Host   string
	Port   int
}

// ParseListenLine extracts the announced address from line.
func ParseListenLine(line string) (ListenAddr, bool) {
	m := listenPattern.FindStringSubmatch(line)
	if m == nil {
		return ListenAddr{}, false
	}
	port, err := strconv.Atoi(m[3])
	if err != nil || port < 1 || port > 65535 {
		return ListenAddr{}, false
	}
	return ListenAddr{Scheme: m[1], Host: m[2], Port: port}, true
}

// ListenParser watches output for the first listen line. Later listen lines
// are ignored so the discovered address never changes.
type ListenParser struct {
	once  sync.Once
	found chan struct{}
	addr  ListenAddr
}

// NewListenParser creates a parser waiting for its first match.
func NewListenParser() *ListenParser {
	return &ListenParser{found: make(chan struct{})}
}

// ParseLine implements LineParser.
func (p *ListenParser) ParseLine(line string) {
	addr, ok := ParseListenLine(line)
	if !ok {
		return
	}
	p.once.Do(func() {
		p.addr = addr
		close(p.found)
	})
}

// Found is closed once a listen line has been seen.
func (p *ListenParser) Found() <-chan struct{} {
	return p.found
}

// Addr returns the discovered address, or false if none has been seen yet.
func (p *ListenParser) Addr() (ListenAddr, bool) {
	select {
	case <-p.found:
		return p.addr, true
	default:
		return ListenAddr{}, false
	}
}

var _ LineParser = (*ListenParser)(nil)
