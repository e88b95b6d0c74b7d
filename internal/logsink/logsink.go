// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package logsink implements the gateway's lifecycle/alert log: a
// mutex-guarded publish Channel in front of a dedicated Sink goroutine
// that timestamps and sequence-numbers every message before appending it
// to a log file. The original gateway forks a child process for this
// isolation; a dedicated goroutine reading a bounded channel is the
// portable Go equivalent.
package logsink

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// terminate is the sentinel message that stops the Sink.
const terminate = "TERMINATE"

// Channel is the process-internal write endpoint. Publish is safe for
// concurrent use by any component; each call is one atomic message.
type Channel struct {
	mu sync.Mutex
	ch chan string
}

// NewChannel creates a Channel backed by a buffered queue of the given
// depth feeding a Sink.
func NewChannel(depth int) *Channel {
	return &Channel{ch: make(chan string, depth)}
}

// Publish sends msg to the sink. It blocks only for as long as it takes
// to enqueue the message.
func (c *Channel) Publish(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch <- msg
}

// Terminate publishes the sentinel that stops the Sink reading from this
// Channel.
func (c *Channel) Terminate() {
	c.Publish(terminate)
}

// Sink consumes a Channel's messages, prepending a sequence number and
// epoch timestamp, and appends them to path. It runs until it reads the
// terminate sentinel or the channel is closed, then returns.
type Sink struct {
	path string
}

// NewSink returns a Sink that appends to path, creating it if necessary.
func NewSink(path string) *Sink {
	return &Sink{path: path}
}

// Run drains ch until the terminate sentinel arrives. It is meant to run
// in its own goroutine for the lifetime of the process.
func (s *Sink) Run(c *Channel) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return errors.Wrap(err, "logsink: open log file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	seq := 0
	for msg := range c.ch {
		if msg == terminate {
			break
		}
		seq++
		line := fmt.Sprintf("No.%d %d %s\n", seq, time.Now().Unix(), msg)
		if _, err := w.WriteString(line); err != nil {
			return errors.Wrap(err, "logsink: write log line")
		}
		if err := w.Flush(); err != nil {
			return errors.Wrap(err, "logsink: flush log file")
		}
	}
	return nil
}
