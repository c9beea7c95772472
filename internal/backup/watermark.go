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

package backup

import "sync"

// tracker follows listed items through the worker pool and computes
// the cursor that is safe to persist.  Items are issued in listing
// order and may complete in any order.  The safe cursor is that of the
// lowest incomplete item: resuming there re-lists every item not yet
// committed.  With nothing in flight it is the cursor of the last item
// issued.
type tracker struct {
	mu      sync.Mutex
	next    int64
	last    string
	pending map[int64]string
}

func newTracker(start string) *tracker {
	return &tracker{last: start, pending: map[int64]string{}}
}

// issue records a listed item and returns its sequence number.
func (t *tracker) issue(cursor string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.next
	t.next++
	t.pending[seq] = cursor
	t.last = cursor
	return seq
}

// complete marks seq done and returns the resulting watermark.
func (t *tracker) complete(seq int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, seq)
	return t.watermarkLocked()
}

// revert marks seq incomplete again after a failed commit.
func (t *tracker) revert(seq int64, cursor string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[seq] = cursor
}

func (t *tracker) watermark() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermarkLocked()
}

func (t *tracker) watermarkLocked() string {
	low := int64(-1)
	for seq := range t.pending {
		if low < 0 || seq < low {
			low = seq
		}
	}
	if low < 0 {
		return t.last
	}
	return t.pending[low]
}

// issued returns the number of items issued so far.
func (t *tracker) issued() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// inFlight returns the number of incomplete items.
func (t *tracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
