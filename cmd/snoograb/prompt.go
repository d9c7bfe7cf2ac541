package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// prompter asks on the terminal before an existing output is replaced. Answers are
// read one at a time, so concurrent workers queue up behind each other.
type prompter struct {
	mu      sync.Mutex
	in      *bufio.Reader
	out     io.Writer
	pending chan string
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// Confirm implements ports.OverwriteFunc. Anything but y or yes, a read error or a
// cancelled context means no.
func (p *prompter) Confirm(ctx context.Context, reference, outputPath string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n%s already exists. Do you want to overwrite it? (y/n): ", outputPath)

	// A read abandoned by a cancelled prompt is still owed to the next one.
	if p.pending == nil {
		p.pending = make(chan string, 1)
		go func(ch chan<- string) {
			line, _ := p.in.ReadString('\n')
			ch <- line
		}(p.pending)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false
	case line := <-p.pending:
		p.pending = nil
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
