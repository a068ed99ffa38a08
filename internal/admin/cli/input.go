package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Test seams for terminal access.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
	stdinFd      = func() int { return int(os.Stdin.Fd()) }
)

// readLine prints prompt and reads one trimmed line.
func (c *console) readLine(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt+": ")
	line, err := c.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo on a terminal and falls back to a plain
// line when input is piped.
func (c *console) readSecret(w io.Writer, prompt string) (string, error) {
	fd := stdinFd()
	if !isTerminal(fd) {
		return c.readLine(w, prompt)
	}
	fmt.Fprint(w, prompt+": ")
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func (c *console) confirm(w io.Writer, question string) (bool, error) {
	answer, err := c.readLine(w, question+" [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
