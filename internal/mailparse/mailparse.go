// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailparse turns raw RFC 5322 bytes into the fixed set of
// fields the rest of the program stores and indexes.
package mailparse

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // registers non UTF-8 charsets
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"
)

// ErrMalformed is returned when a message's header block cannot be
// parsed at all.
var ErrMalformed = errors.New("malformed message")

// Part is a decoded attachment.
type Part struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Parsed holds the fields extracted from a raw message.
type Parsed struct {
	Subject string
	From    string
	To      string

	// Zero if the Date header is missing or unparsable.
	Date time.Time

	// Plain text parts joined by newlines; stripped HTML if the
	// message has no plain text part.
	BodyText string

	Attachments []Part

	// Set when the MIME tree ended early (e.g. a missing closing
	// boundary).  Whatever was read before that point is kept.
	Truncated bool
}

// Parse parses raw.  Unknown charsets are tolerated; their parts are
// kept undecoded.
func Parse(raw []byte) (*Parsed, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.Wrap(ErrMalformed, "empty message")
	}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, errors.Wrapf(ErrMalformed, "parsing header: %v", err)
	}
	defer mr.Close()

	h := mr.Header
	p := &Parsed{
		From: addresses(h, "From"),
		To:   addresses(h, "To"),
	}
	if p.Subject, err = h.Subject(); err != nil {
		p.Subject = h.Get("Subject")
	}
	if d, err := h.Date(); err == nil {
		p.Date = d
	}

	var plain, rich []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			p.Truncated = true
			break
		}
		if part == nil {
			continue
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			ct, _, _ := ph.ContentType()
			if name := inlineFilename(ph); name != "" {
				if len(body) > 0 {
					p.Attachments = append(p.Attachments, Part{Filename: name, MIMEType: ct, Data: body})
				}
				continue
			}
			switch ct {
			case "text/plain", "":
				plain = append(plain, string(body))
			case "text/html":
				rich = append(rich, string(body))
			}
		case *mail.AttachmentHeader:
			body, err := io.ReadAll(part.Body)
			if err != nil || len(body) == 0 {
				continue
			}
			name, err := ph.Filename()
			if err != nil {
				name = ""
			}
			ct, _, _ := ph.ContentType()
			p.Attachments = append(p.Attachments, Part{Filename: name, MIMEType: ct, Data: body})
		}
	}

	switch {
	case len(plain) > 0:
		p.BodyText = strings.Join(plain, "\n")
	case len(rich) > 0:
		p.BodyText = StripHTML(strings.Join(rich, "\n"))
	}
	return p, nil
}

func addresses(h mail.Header, key string) string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		text, err := h.Text(key)
		if err != nil {
			return h.Get(key)
		}
		return text
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Name != "" {
			out = append(out, a.Name+" <"+a.Address+">")
		} else {
			out = append(out, a.Address)
		}
	}
	return strings.Join(out, ", ")
}

// inlineFilename returns the filename of an inline part that is
// really a file (e.g. an inline image), or "" for body text.
func inlineFilename(h *mail.InlineHeader) string {
	if _, params, err := h.ContentDisposition(); err == nil && params["filename"] != "" {
		return decodeWord(params["filename"])
	}
	if _, params, err := h.ContentType(); err == nil && params["name"] != "" {
		return decodeWord(params["name"])
	}
	return ""
}

func decodeWord(s string) string {
	dec := new(mime.WordDecoder)
	out, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}
