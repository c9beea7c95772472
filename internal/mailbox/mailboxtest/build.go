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

package mailboxtest

import (
	"bytes"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// File is an attachment of a built message.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Spec describes a message to build.
type Spec struct {
	From    string
	To      string
	Subject string

	// Omitted from the header when zero.
	Date time.Time

	Body  string
	Files []File
}

// Build renders s as an RFC 5322 message.  It panics on error, which
// only a broken writer can cause.
func Build(s Spec) []byte {
	var h mail.Header
	if s.From != "" {
		h.SetAddressList("From", []*mail.Address{{Address: s.From}})
	}
	if s.To != "" {
		h.SetAddressList("To", []*mail.Address{{Address: s.To}})
	}
	if !s.Date.IsZero() {
		h.SetDate(s.Date)
	}
	h.SetSubject(s.Subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		panic(err)
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	w, err := mw.CreateSingleInline(th)
	if err != nil {
		panic(err)
	}
	must(io.WriteString(w, s.Body))
	if err := w.Close(); err != nil {
		panic(err)
	}

	for _, f := range s.Files {
		var ah mail.AttachmentHeader
		ct := f.MIMEType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.SetContentType(ct, nil)
		ah.SetFilename(f.Name)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			panic(err)
		}
		must(w.Write(f.Data))
		if err := w.Close(); err != nil {
			panic(err)
		}
	}
	if err := mw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func must(_ int, err error) {
	if err != nil {
		panic(err)
	}
}
