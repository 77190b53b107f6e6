// Package prompt collects the run parameters interactively.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/FranksOps/mapscrape/internal/scraper"
)

// Answers are the values typed by the user.
type Answers struct {
	OutputDir    string
	Location     string
	BusinessType string
	// Count is always at least 1; anything unusable becomes
	// scraper.DefaultTargetCount.
	Count int
}

// Prompter asks questions on out and reads one line per answer from in.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// New returns a Prompter reading from in and writing questions to out.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Ask collects the output directory, location, business type and record
// count, in that order. A missing final newline is accepted; running out of
// input before the count is an error.
func (p *Prompter) Ask() (Answers, error) {
	var a Answers
	var err error

	if a.OutputDir, err = p.line("Output directory: "); err != nil {
		return Answers{}, err
	}
	if a.Location, err = p.line("Location: "); err != nil {
		return Answers{}, err
	}
	if a.BusinessType, err = p.line("Business type: "); err != nil {
		return Answers{}, err
	}

	count, err := p.line(fmt.Sprintf("How many records (default %d): ", scraper.DefaultTargetCount))
	if err != nil && !errors.Is(err, io.EOF) {
		return Answers{}, err
	}
	a.Count = ParseCount(count)
	return a, nil
}

func (p *Prompter) line(question string) (string, error) {
	if _, err := fmt.Fprint(p.out, question); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	s, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			return strings.TrimSpace(s), nil
		}
		return "", fmt.Errorf("read answer to %q: %w", strings.TrimSpace(question), err)
	}
	return strings.TrimSpace(s), nil
}

// ParseCount turns a typed count into a target, falling back to
// scraper.DefaultTargetCount for blank, non-numeric or non-positive input.
func ParseCount(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return scraper.DefaultTargetCount
	}
	return n
}
