package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"go.trai.ch/zerr"
)

// ErrNoAnswer is returned when input ends before the user answered.
var ErrNoAnswer = zerr.New("no answer to confirmation prompt")

// Confirmer answers yes/no questions.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Func adapts a function to Confirmer.
type Func func(question string) (bool, error)

// Confirm calls f.
func (f Func) Confirm(question string) (bool, error) {
	return f(question)
}

// Always returns a Confirmer that answers without asking.
func Always(answer bool) Confirmer {
	return Func(func(string) (bool, error) { return answer, nil })
}

// Terminal asks on out and reads the answer from in.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal creates a Terminal confirmer.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// Confirm prints question followed by "[Y/n]". An empty answer, "y" or "Y"
// accepts; anything else declines.
func (t *Terminal) Confirm(question string) (bool, error) {
	fmt.Fprintf(t.out, "%s %s ", color.New(color.Bold).Sprint(question), "[Y/n]")

	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return false, ErrNoAnswer
		}
		return false, zerr.Wrap(err, "reading answer")
	}

	switch strings.TrimSpace(line) {
	case "", "y", "Y":
		return true, nil
	}
	return false, nil
}
