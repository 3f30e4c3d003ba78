package listener

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// A TerminalPrompt reads operator commands one line at a time from a console
// and writes session output back to it. When several sessions are open their
// handlers all block here, so a mutex serializes operator attention; one
// prompt is answered at a time.
type TerminalPrompt struct {
	mu sync.Mutex
	in *bufio.Reader
	w  io.Writer
}

func NewTerminalPrompt(r io.Reader, w io.Writer) *TerminalPrompt {
	return &TerminalPrompt{
		in: bufio.NewReader(r),
		w:  w,
	}
}

// ReadCommand prints a per-session prompt and blocks until the operator
// enters a line. The trailing newline is stripped; everything else is
// forwarded verbatim.
func (prompt *TerminalPrompt) ReadCommand(remote string) (string, error) {
	prompt.mu.Lock()
	defer prompt.mu.Unlock()

	fmt.Fprintf(prompt.w, "shell@%v > ", remote)
	line, err := prompt.in.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (prompt *TerminalPrompt) Print(output string) {
	prompt.mu.Lock()
	defer prompt.mu.Unlock()

	fmt.Fprintln(prompt.w, output)
}
