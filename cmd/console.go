package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// console talks to the user on stdin/stdout. Lines are read by a single
// goroutine so a pending Ask can be abandoned when ctx ends.
type console struct {
	out   io.Writer
	lines chan string
	once  sync.Once
	in    io.Reader
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: in, out: out, lines: make(chan string)}
}

func (c *console) start() {
	c.once.Do(func() {
		go func() {
			defer close(c.lines)
			sc := bufio.NewScanner(c.in)
			sc.Buffer(make([]byte, 64*1024), 1024*1024)
			for sc.Scan() {
				c.lines <- sc.Text()
			}
		}()
	})
}

// Ask prints question and waits for one line of input.
func (c *console) Ask(ctx context.Context, question string) (string, error) {
	c.start()
	fmt.Fprintf(c.out, "\n%s\n> ", question)
	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

// Notify prints a progress message.
func (c *console) Notify(msg string) {
	fmt.Fprintf(c.out, "\n%s\n", msg)
}
