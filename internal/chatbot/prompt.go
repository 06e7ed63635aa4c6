package chatbot

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Prompter reads user input
type Prompter interface {
	ReadLine(label string) (string, error)
	ReadPassword(label string) (string, error)
}

// LinePrompter reads everything, passwords included, as plain lines
type LinePrompter struct {
	r   *bufio.Reader
	out io.Writer
}

// NewLinePrompter creates a prompter over r that writes labels to out
func NewLinePrompter(r io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(r), out: out}
}

func (p *LinePrompter) ReadLine(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *LinePrompter) ReadPassword(label string) (string, error) {
	return p.ReadLine(label)
}

// TerminalPrompter hides password input when stdin is a terminal
type TerminalPrompter struct {
	*LinePrompter
	fd int
}

// NewTerminalPrompter reads from stdin and writes to stdout
func NewTerminalPrompter() Prompter {
	lp := NewLinePrompter(os.Stdin, os.Stdout)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return lp
	}
	return &TerminalPrompter{LinePrompter: lp, fd: fd}
}

func (p *TerminalPrompter) ReadPassword(label string) (string, error) {
	fmt.Fprint(p.out, label)
	pw, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// Renderer formats assistant replies for the terminal
type Renderer interface {
	Render(markdown string) (string, error)
}

// PlainRenderer prints replies unchanged
type PlainRenderer struct{}

func (PlainRenderer) Render(markdown string) (string, error) {
	return markdown, nil
}

// NewRenderer returns a glamour markdown renderer when stdout is a terminal
func NewRenderer() Renderer {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return PlainRenderer{}
	}

	width := 80
	if w, _, err := term.GetSize(fd); err == nil && w > 20 {
		width = w - 4
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return PlainRenderer{}
	}
	return r
}
