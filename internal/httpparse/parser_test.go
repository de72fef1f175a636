package httpparse

import "testing"

func TestFeedSimpleGetNoBody(t *testing.T) {
	var p Parser
	buf := []byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n")
	res, done, err := p.Feed(buf)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("expected done=true")
	}
	if res.Method != "GET" {
		t.Errorf("expected method GET, got %q", res.Method)
	}
	if string(res.URI) != "/a" {
		t.Errorf("expected URI /a, got %q", res.URI)
	}
	if len(res.Body) != 0 {
		t.Errorf("expected empty body, got %q", res.Body)
	}
	if !res.KeepAlive {
		t.Error("expected keepalive true by default")
	}
	if res.TotalLen != len(buf) {
		t.Errorf("expected TotalLen %d, got %d", len(buf), res.TotalLen)
	}
}

func TestFeedAcrossMultipleChunks(t *testing.T) {
	var p Parser
	var acc []byte
	feed := func(chunk string) (Result, bool, error) {
		acc = append(acc, chunk...)
		return p.Feed(acc)
	}

	if _, done, err := feed("POST /submit HTTP/1.1\r\n"); done || err != nil {
		t.Fatalf("unexpected done/err: %v %v", done, err)
	}
	if _, done, err := feed("Content-Length: 5\r\n\r\n"); done || err != nil {
		t.Fatalf("unexpected done/err: %v %v", done, err)
	}
	if _, done, err := feed("hel"); done || err != nil {
		t.Fatalf("unexpected done/err: %v %v", done, err)
	}
	res, done, err := feed("lo")
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("expected done=true once full body arrives")
	}
	if string(res.Body) != "hello" {
		t.Errorf("expected body %q, got %q", "hello", res.Body)
	}
	if res.Method != "POST" {
		t.Errorf("expected method POST, got %q", res.Method)
	}
}

func TestFeedAliasesCallerBuffer(t *testing.T) {
	var p Parser
	buf := []byte("POST /x HTTP/1.1\r\nContent-Length: 2\r\n\r\nok")
	res, done, err := p.Feed(buf)
	if err != nil || !done {
		t.Fatalf("unexpected result done=%v err=%v", done, err)
	}
	// URI and Body must point into buf, not copies: mutating buf must be
	// visible through the result slices.
	buf[len(buf)-1] = 'K'
	if string(res.Body) != "oK" {
		t.Errorf("expected Body to alias the input buffer, got %q", res.Body)
	}
}

func TestFeedConnectionClose(t *testing.T) {
	var p Parser
	res, done, err := p.Feed([]byte("GET /a HTTP/1.1\r\nConnection: close\r\n\r\n"))
	if err != nil || !done {
		t.Fatalf("unexpected result done=%v err=%v", done, err)
	}
	if res.KeepAlive {
		t.Error("expected KeepAlive=false after Connection: close")
	}
}

func TestFeedMalformedRequestLine(t *testing.T) {
	var p Parser
	_, _, err := p.Feed([]byte("NOTAREQUEST\r\n\r\n"))
	if err != ErrMalformed {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestResetAllowsReuse(t *testing.T) {
	var p Parser
	_, done, _ := p.Feed([]byte("GET /a HTTP/1.1\r\n\r\n"))
	if !done {
		t.Fatal("expected first request to complete")
	}
	p.Reset()
	res, done, err := p.Feed([]byte("GET /b HTTP/1.1\r\n\r\n"))
	if err != nil || !done {
		t.Fatalf("unexpected result done=%v err=%v", done, err)
	}
	if string(res.URI) != "/b" {
		t.Errorf("expected URI /b after reset, got %q", res.URI)
	}
}
