// Package httpparse is a minimal stand-in for the external HTTP/1.x
// parser this core treats as a collaborator outside its scope. It exposes
// the shape the core drives (feed the accumulated input buffer in, get
// on_url/on_body/on_message_complete-style completion out) without
// attempting to be a general-purpose HTTP parser. Real deployments are
// expected to swap in a production parser behind this same Feed/Reset
// surface.
//
// The parser owns no buffer of its own: the connection's input bytes live
// in the caller's arena-backed buffer, and Result's URI/Body are offsets
// into it. The parser only remembers offsets between Feed calls.
package httpparse

import (
	"bytes"
	"errors"
)

// ErrMalformed is returned when the byte stream cannot be interpreted as
// an HTTP/1.x request line. Content-Length values are not validated: one
// that does not parse as a number is ignored.
var ErrMalformed = errors.New("httpparse: malformed request")

var crlf = []byte("\r\n")

// Result is the terminal state of a successfully parsed request. URI and
// Body alias the buffer handed to Feed and stay valid exactly as long as
// it does.
type Result struct {
	Method        string
	URI           []byte
	Body          []byte
	KeepAlive     bool
	ContentLength int

	// TotalLen is how many bytes of the input buffer this request spans
	// (header block plus body). Bytes beyond it belong to a pipelined
	// follow-up request, which this core does not accept.
	TotalLen int
}

// Parser incrementally interprets a connection's accumulated input buffer.
// Feed is called with the full buffer read so far (not a delta): the
// parser keeps only offsets between calls, so re-feeding a grown or
// relocated buffer is always safe as long as its contents are a prefix
// extension of the previous call's.
type Parser struct {
	methodLen     int
	uriOff        int
	uriLen        int
	headerEnd     int // offset just past the blank line; 0 until headers complete
	contentLength int
	keepAlive     bool
}

// Reset clears the parser for reuse on a new request.
func (p *Parser) Reset() {
	*p = Parser{}
}

// Feed attempts to advance over buf, the connection's full accumulated
// input. done=true means a complete request has been parsed and Result is
// populated; the caller must call Reset before parsing the next request on
// the same connection (HTTP pipelining is unsupported, so there is always
// at most one in-flight parse per connection).
func (p *Parser) Feed(buf []byte) (result Result, done bool, err error) {
	if p.headerEnd == 0 {
		lineEnd := bytes.Index(buf, crlf)
		if lineEnd < 0 {
			return Result{}, false, nil
		}
		if p.uriLen == 0 {
			if err := p.parseRequestLine(buf[:lineEnd]); err != nil {
				return Result{}, false, err
			}
		}

		term := bytes.Index(buf, []byte("\r\n\r\n"))
		if term < 0 {
			return Result{}, false, nil
		}
		p.keepAlive = true
		p.contentLength = 0
		if term > lineEnd {
			for _, line := range bytes.Split(buf[lineEnd+2:term], crlf) {
				if cl, ok := parseContentLength(line); ok {
					p.contentLength = cl
				}
				if ka, ok := parseConnection(line); ok {
					p.keepAlive = ka
				}
			}
		}
		p.headerEnd = term + 4
	}

	if len(buf) < p.headerEnd+p.contentLength {
		return Result{}, false, nil
	}
	return Result{
		Method:        string(buf[:p.methodLen]),
		URI:           buf[p.uriOff : p.uriOff+p.uriLen],
		Body:          buf[p.headerEnd : p.headerEnd+p.contentLength],
		KeepAlive:     p.keepAlive,
		ContentLength: p.contentLength,
		TotalLen:      p.headerEnd + p.contentLength,
	}, true, nil
}

func (p *Parser) parseRequestLine(line []byte) error {
	sp := bytes.IndexByte(line, ' ')
	if sp <= 0 {
		return ErrMalformed
	}
	uri := line[sp+1:]
	if end := bytes.IndexByte(uri, ' '); end >= 0 {
		uri = uri[:end]
	}
	if len(uri) == 0 {
		return ErrMalformed
	}
	p.methodLen = sp
	p.uriOff = sp + 1
	p.uriLen = len(uri)
	return nil
}

func parseContentLength(line []byte) (int, bool) {
	const prefix = "content-length:"
	if len(line) <= len(prefix) {
		return 0, false
	}
	if !bytesEqualFold(line[:len(prefix)], []byte(prefix)) {
		return 0, false
	}
	v := bytes.TrimSpace(line[len(prefix):])
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func parseConnection(line []byte) (keepAlive bool, matched bool) {
	const prefix = "connection:"
	if len(line) <= len(prefix) {
		return false, false
	}
	if !bytesEqualFold(line[:len(prefix)], []byte(prefix)) {
		return false, false
	}
	v := bytes.TrimSpace(line[len(prefix):])
	return !bytesEqualFold(v, []byte("close")), true
}

func bytesEqualFold(a, b []byte) bool {
	return bytes.EqualFold(bytes.TrimSpace(a), b)
}
