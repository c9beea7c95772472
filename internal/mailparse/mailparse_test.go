package mailparse

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

const multipartInvoice = `From: Alice Example <alice@example.com>
To: bob@example.com
Subject: Invoice 42
Date: Mon, 02 Jan 2023 15:04:05 +0000
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="XYZ"

--XYZ
Content-Type: text/plain; charset=utf-8

Please find the invoice attached.
--XYZ
Content-Type: application/pdf
Content-Disposition: attachment; filename="invoice.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--XYZ--
`

func TestParseMultipart(t *testing.T) {
	p, err := Parse(crlf(multipartInvoice))
	if err != nil {
		t.Fatalf("Parse() = %v, want nil", err)
	}
	if got, want := p.Subject, "Invoice 42"; got != want {
		t.Errorf("Subject = %q, want %q", got, want)
	}
	if got, want := p.From, "Alice Example <alice@example.com>"; got != want {
		t.Errorf("From = %q, want %q", got, want)
	}
	if got, want := p.To, "bob@example.com"; got != want {
		t.Errorf("To = %q, want %q", got, want)
	}
	if want := time.Date(2023, time.January, 2, 15, 4, 5, 0, time.UTC); !p.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", p.Date, want)
	}
	if got, want := strings.TrimSpace(p.BodyText), "Please find the invoice attached."; got != want {
		t.Errorf("BodyText = %q, want %q", got, want)
	}
	want := []Part{{Filename: "invoice.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.4\n")}}
	if diff := cmp.Diff(want, p.Attachments); diff != "" {
		t.Errorf("Attachments mismatch (-want +got):\n%s", diff)
	}
	if p.Truncated {
		t.Errorf("Truncated = true, want false")
	}
}

func TestParseHTMLOnly(t *testing.T) {
	raw := crlf(`From: shop@example.com
Subject: Receipt
Content-Type: text/html; charset=utf-8

<html><head><style>p {color: red}</style></head><body><p>Thanks for your order</p><p>Total: &euro;12</p></body></html>
`)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() = %v, want nil", err)
	}
	if got, want := p.BodyText, "Thanks for your order\nTotal: €12"; got != want {
		t.Errorf("BodyText = %q, want %q", got, want)
	}
	if !p.Date.IsZero() {
		t.Errorf("Date = %v, want zero", p.Date)
	}
}

func TestParseInlineImageIsAttachment(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: pic
Content-Type: multipart/related; boundary="B"

--B
Content-Type: text/plain

see picture
--B
Content-Type: image/png; name="dot.png"
Content-Disposition: inline; filename="dot.png"
Content-Transfer-Encoding: base64

iVBORw0K
--B--
`)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() = %v, want nil", err)
	}
	if len(p.Attachments) != 1 || p.Attachments[0].Filename != "dot.png" {
		t.Fatalf("Attachments = %#v, want one dot.png", p.Attachments)
	}
	if got := strings.TrimSpace(p.BodyText); got != "see picture" {
		t.Errorf("BodyText = %q, want %q", got, "see picture")
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("   \r\n")} {
		if _, err := Parse(raw); errors.Cause(err) != ErrMalformed {
			t.Errorf("Parse(%q) = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestStripHTML(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"<b>bold</b>   text", "bold text"},
		{"a<br>b", "a\nb"},
		{"<script>alert(1)</script>visible", "visible"},
		{"<div> one </div><div>two</div>", "one\ntwo"},
		{"&lt;tag&gt; &amp; more", "<tag> & more"},
	}
	for _, tc := range cases {
		if got := StripHTML(tc.in); got != tc.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSnippet(t *testing.T) {
	cases := []struct {
		text string
		n    int
		want string
	}{
		{"hello\n\n  world", 100, "hello world"},
		{"abcdef", 3, "abc"},
		{"ab cd", 3, "ab"},
		{"日本語テキスト", 3, "日本語"},
		{"anything", 0, ""},
	}
	for _, tc := range cases {
		if got := Snippet(tc.text, tc.n); got != tc.want {
			t.Errorf("Snippet(%q, %d) = %q, want %q", tc.text, tc.n, got, tc.want)
		}
	}
}
