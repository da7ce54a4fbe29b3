package smtp

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		addr    string
		domain  string
		wantErr bool
	}{
		{in: "alice@example.com", addr: "alice@example.com", domain: "example.com"},
		{in: "Alice <Alice@Example.COM>", addr: "Alice@example.com", domain: "example.com"},
		{in: "  bob@mail.example.org ", addr: "bob@mail.example.org", domain: "mail.example.org"},
		{in: "joe@bücher.de", addr: "joe@xn--bcher-kva.de", domain: "xn--bcher-kva.de"},
		{in: "not-an-email", wantErr: true},
		{in: "", wantErr: true},
		{in: "user@localhost", wantErr: true},
		{in: "a@b@c.com", wantErr: true},
	}
	for _, tc := range tests {
		addr, domain, err := ParseAddress(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseAddress(%q) = %q, want error", tc.in, addr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", tc.in, err)
		}
		if addr != tc.addr || domain != tc.domain {
			t.Fatalf("ParseAddress(%q) = %q, %q", tc.in, addr, domain)
		}
	}
}

func TestBuild_PlainText(t *testing.T) {
	t.Parallel()

	m := &Message{
		From:    "me@z.com",
		To:      []string{"a@x.com", "b@x.com"},
		Cc:      []string{"c@y.com"},
		Bcc:     []string{"hidden@y.com"},
		Subject: "Olá relay",
		Body:    "line one\nline two\n",
		Headers: map[string]string{"x-geogram-callsign": "X1ABC"},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := m.build(now, "z.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if bytes.Contains(raw, []byte("hidden@y.com")) {
		t.Fatal("bcc recipient leaked into message")
	}
	if bytes.Contains(bytes.ReplaceAll(raw, []byte("\r\n"), nil), []byte("\n")) {
		t.Fatal("bare LF in message")
	}

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	h := parsed.Header
	if h.Get("To") != "a@x.com, b@x.com" || h.Get("Cc") != "c@y.com" || h.Get("Bcc") != "" {
		t.Fatalf("recipient headers: %v", h)
	}
	subject, err := new(mime.WordDecoder).DecodeHeader(h.Get("Subject"))
	if err != nil || subject != "Olá relay" {
		t.Fatalf("subject=%q err=%v", subject, err)
	}
	if d, err := h.Date(); err != nil || !d.Equal(now) {
		t.Fatalf("date=%v err=%v", d, err)
	}
	if id := h.Get("Message-ID"); !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, "@z.com>") {
		t.Fatalf("message-id=%q", id)
	}
	if h.Get("X-Geogram-Callsign") != "X1ABC" {
		t.Fatalf("extra header missing: %v", h)
	}
	if h.Get("Content-Transfer-Encoding") != "quoted-printable" {
		t.Fatalf("cte=%q", h.Get("Content-Transfer-Encoding"))
	}
	body, _ := io.ReadAll(parsed.Body)
	if string(body) != "line one\r\nline two\r\n" {
		t.Fatalf("body=%q", body)
	}
}

func TestBuild_OmitsEmptyTo(t *testing.T) {
	t.Parallel()

	m := &Message{From: "me@z.com", Cc: []string{"c@y.com"}, Bcc: []string{"d@y.com"}, Subject: "s", Body: "b"}
	raw, err := m.build(time.Now(), "z.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := parsed.Header["To"]; ok {
		t.Fatalf("unexpected To header: %q", parsed.Header.Get("To"))
	}
	if parsed.Header.Get("Cc") != "c@y.com" {
		t.Fatalf("cc=%q", parsed.Header.Get("Cc"))
	}
}

func TestBuild_Attachments(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x00, 0xff, 0x10, 0x7f}, 100)
	m := &Message{
		From:    "me@z.com",
		To:      []string{"a@x.com"},
		Subject: "files",
		Body:    "see attached",
		Attachments: []Attachment{
			{Filename: "blob.bin", Data: payload},
			{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("hi")},
		},
	}
	raw, err := m.build(time.Now(), "z.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/mixed" {
		t.Fatalf("content-type=%q err=%v", mediaType, err)
	}

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	var names []string
	for {
		p, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextRawPart: %v", err)
		}
		data, _ := io.ReadAll(p)
		if p.Header.Get("Content-Transfer-Encoding") != "base64" {
			continue
		}
		names = append(names, p.FileName())
		for _, line := range strings.Split(strings.TrimRight(string(data), "\r\n"), "\r\n") {
			if len(line) > lineLen {
				t.Fatalf("base64 line of %d chars in %s", len(line), p.FileName())
			}
		}
	}
	if strings.Join(names, ",") != "blob.bin,notes.txt" {
		t.Fatalf("attachments=%v", names)
	}
	if !bytes.Contains(raw, []byte("Content-Type: application/octet-stream; name=blob.bin")) {
		t.Fatalf("default content type missing:\n%s", raw)
	}
}

func TestWrapBase64(t *testing.T) {
	t.Parallel()

	if got := wrapBase64(nil); len(got) != 0 {
		t.Fatalf("empty input gave %q", got)
	}
	// 57 bytes encode to exactly one full line.
	got := string(wrapBase64(bytes.Repeat([]byte("a"), 57)))
	if strings.Count(got, "\r\n") != 1 || len(got) != lineLen+2 {
		t.Fatalf("got %q", got)
	}
	got = string(wrapBase64(bytes.Repeat([]byte("a"), 58)))
	if lines := strings.Split(strings.TrimSuffix(got, "\r\n"), "\r\n"); len(lines) != 2 || len(lines[0]) != lineLen {
		t.Fatalf("got %q", got)
	}
}
