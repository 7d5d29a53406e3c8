package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errInputClosed = errors.New("input closed")

// prompter reads answers from the terminal, hiding secrets when stdin is a TTY.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newPrompter(stdin io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(stdin), out: out, fd: -1}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd, p.tty = int(f.Fd()), true
	}
	return p
}

// Line prints label and returns the trimmed answer.
func (p *prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", errInputClosed
	}
	return strings.TrimSpace(line), nil
}

// Secret is Line without echo on a terminal. Surrounding spaces are kept.
func (p *prompter) Secret(label string) (string, error) {
	if !p.tty {
		fmt.Fprint(p.out, label)
		line, err := p.in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", errInputClosed
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(b), nil
}
