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

package tracehttp

import (
	"net/http"
	"net/http/httputil"

	"go.uber.org/zap"
)

// traceTransport is an http.RoundTripper that logs the request and
// response at debug level while delegating the real work to another
// http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
	log      *zap.Logger
	bodies   bool
}

// RoundTrip logs a dump of the request and response while delegating
// the round trip to the delegate.
func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if dump, err := httputil.DumpRequestOut(req, t.bodies); err == nil {
		t.log.Debug("http request", zap.ByteString("dump", redact(dump)))
	}
	resp, err := t.delegate.RoundTrip(req)
	if err != nil {
		t.log.Debug("http error", zap.String("url", req.URL.String()), zap.Error(err))
		return resp, err
	}
	if dump, err := httputil.DumpResponse(resp, t.bodies); err == nil {
		t.log.Debug("http response", zap.ByteString("dump", dump))
	}
	return resp, nil
}

// Wrap returns a RoundTripper that logs every exchange through d to
// logger.  Bodies are included only when bodies is set; raw message
// bodies are large.  A nil d means http.DefaultTransport.
func Wrap(d http.RoundTripper, logger *zap.Logger, bodies bool) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	return &traceTransport{delegate: d, log: logger, bodies: bodies}
}

var authPrefix = []byte("\r\nAuthorization: ")

// redact blanks the value of any Authorization header in dump.
func redact(dump []byte) []byte {
	out := append([]byte(nil), dump...)
	for i := 0; i+len(authPrefix) <= len(out); i++ {
		if string(out[i:i+len(authPrefix)]) != string(authPrefix) {
			continue
		}
		for j := i + len(authPrefix); j < len(out) && out[j] != '\r'; j++ {
			out[j] = '*'
		}
	}
	return out
}
