package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"signalhub/internal/protocol"
)

// maxFrameSize bounds a single newline-delimited message (16 MiB).
const maxFrameSize = 16 * 1024 * 1024

// Stdio frames one JSON message per line over a reader/writer pair,
// standard input and output by default. Replies from concurrent handlers are
// serialized through a write mutex.
type Stdio struct {
	in  io.Reader
	out io.Writer

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewStdio creates a transport over standard input and output.
func NewStdio() *Stdio {
	return NewStdioPipe(os.Stdin, os.Stdout)
}

// NewStdioPipe creates a transport over an arbitrary reader/writer pair.
func NewStdioPipe(in io.Reader, out io.Writer) *Stdio {
	return &Stdio{in: in, out: out, closed: make(chan struct{})}
}

// Serve reads frames until EOF, close, or context cancellation. Each decoded
// message is handled on its own goroutine; Serve waits for in-flight handlers
// before returning.
func (s *Stdio) Serve(ctx context.Context, h Handler) error {
	defer s.wg.Wait()

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(ctx, h, line)
		}()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdio read failed: %w", err)
	}
	return nil
}

func (s *Stdio) dispatch(ctx context.Context, h Handler, line []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		s.write(parseErrorReply(err))
		return
	}

	reply := h.HandleMessage(ctx, &msg)
	if reply != nil {
		s.write(reply)
	}
}

// Close stops the serve loop. Reads already in flight finish their handlers.
func (s *Stdio) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if c, ok := s.in.(io.Closer); ok {
			c.Close()
		}
	})
	return nil
}

func (s *Stdio) write(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Transport] Failed to encode reply: %v", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		log.Printf("[Transport] Failed to write reply: %v", err)
	}
}
