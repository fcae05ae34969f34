package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// asyncWriter moves formatting output off the caller's goroutine and fans it out to every sink.
// The first sink error is sticky and returned by later calls.
type asyncWriter struct {
	queue   chan []byte
	flushes chan chan error
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	sinks []*bufio.Writer
	err   error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &asyncWriter{
		queue:   make(chan []byte, 256),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
	}
	for _, out := range writers {
		if out != nil {
			w.sinks = append(w.sinks, bufio.NewWriterSize(out, bufSize))
		}
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for {
		select {
		case line, ok := <-w.queue:
			if !ok {
				w.setErr(w.flushAll())
				return
			}
			w.setErr(w.writeAll(line))
		case ack := <-w.flushes:
			ack <- w.flushAll()
		}
	}
}

// Write queues a copy of p. A full queue blocks rather than dropping lines.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.stickyErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.queue <- append([]byte(nil), p...)
	return nil
}

// Flush waits until everything queued so far reached the sinks.
func (w *asyncWriter) Flush() error {
	select {
	case <-w.done:
		return w.stickyErr()
	default:
	}
	ack := make(chan error, 1)
	w.flushes <- ack
	return <-ack
}

// Close drains the queue and stops the writer goroutine.
func (w *asyncWriter) Close() error {
	w.once.Do(func() { close(w.queue) })
	<-w.done
	return w.stickyErr()
}

func (w *asyncWriter) writeAll(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.sinks {
		if _, err := s.Write(p); err != nil {
			return err
		}
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *asyncWriter) flushAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, s := range w.sinks {
		errs = append(errs, s.Flush())
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) stickyErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *asyncWriter) setErr(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
