// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package logappender

// pendingBuffer holds events appended before the backend is ready, in
// arrival order. It has no capacity bound: producers are never blocked.
//
// pendingBuffer is not safe for concurrent use; the Appender guards it with
// its mutex.
type pendingBuffer struct {
	events []Event
}

// enqueue appends e to the tail of the buffer.
func (b *pendingBuffer) enqueue(e Event) {
	b.events = append(b.events, e)
}

// drainAll removes and returns all queued events in FIFO order.
func (b *pendingBuffer) drainAll() []Event {
	events := b.events
	b.events = nil
	return events
}

func (b *pendingBuffer) len() int {
	return len(b.events)
}
