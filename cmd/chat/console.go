package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type lineRequest struct {
	secret bool
	resp   chan lineResult
}

type lineResult struct {
	line string
	err  error
}

// console serialises all reads of the input on one goroutine. Reads happen
// only on request, so a hidden password read never races a pending line
// read, and callers can give up on a read when their context ends.
type console struct {
	in   *bufio.Reader
	out  io.Writer
	reqs chan lineRequest
	// ttyFD is the input's descriptor when it is a terminal, otherwise -1
	ttyFD int
}

func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{
		in:    bufio.NewReader(in),
		out:   out,
		reqs:  make(chan lineRequest),
		ttyFD: -1,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.ttyFD = int(f.Fd())
	}
	go c.loop()
	return c
}

func (c *console) loop() {
	for req := range c.reqs {
		var res lineResult
		if req.secret {
			res.line, res.err = c.readSecret()
		} else {
			res.line, res.err = c.readLine()
		}
		req.resp <- res
	}
}

// readLine returns one trimmed line. EOF after partial input returns the
// partial line.
func (c *console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo from a terminal and falls back to a plain
// line otherwise (pipes, tests).
func (c *console) readSecret() (string, error) {
	if c.ttyFD < 0 {
		return c.readLine()
	}
	pw, err := readPassword(c.ttyFD)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func (c *console) read(ctx context.Context, secret bool) (string, error) {
	req := lineRequest{secret: secret, resp: make(chan lineResult, 1)}
	select {
	case c.reqs <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-req.resp:
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ReadLine waits for the next input line.
func (c *console) ReadLine(ctx context.Context) (string, error) {
	return c.read(ctx, false)
}

// Ask prints label as a prompt and reads the answer.
func (c *console) Ask(ctx context.Context, label string) (string, error) {
	fmt.Fprintf(c.out, "%s: ", label)
	return c.read(ctx, false)
}

// AskSecret prompts for a password.
func (c *console) AskSecret(ctx context.Context, label string) (string, error) {
	fmt.Fprintf(c.out, "%s: ", label)
	return c.read(ctx, true)
}

func (c *console) Println(a ...any) {
	fmt.Fprintln(c.out, a...)
}

func (c *console) Printf(format string, a ...any) {
	fmt.Fprintf(c.out, format, a...)
}
