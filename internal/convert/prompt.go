package convert

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Prompter answers the two questions a conversion can ask: what to call the
// output, and whether an existing file may be replaced. The composer itself
// never talks to a terminal.
type Prompter interface {
	OutputName(suggested string) (string, error)
	ConfirmReplace(path string) (bool, error)
}

// TerminalPrompter asks on an interactive terminal.
type TerminalPrompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewScanner(in), out: out}
}

func (p *TerminalPrompter) OutputName(suggested string) (string, error) {
	fmt.Fprint(p.out, "Enter output file name (without .pdf): ")
	line, err := p.read()
	if err != nil {
		return "", err
	}
	if line == "" {
		return suggested, nil
	}
	return line, nil
}

func (p *TerminalPrompter) ConfirmReplace(path string) (bool, error) {
	fmt.Fprint(p.out, "Output file name already exists, do you want to replace the file? (Y/N): ")
	line, err := p.read()
	if err != nil {
		return false, err
	}
	return line == "Y" || line == "y", nil
}

func (p *TerminalPrompter) read() (string, error) {
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// AutoPrompter answers without a terminal. It takes the fixed Name when set,
// otherwise the suggested one, and replaces existing files only with Force.
type AutoPrompter struct {
	Name  string
	Force bool
}

func (p AutoPrompter) OutputName(suggested string) (string, error) {
	if p.Name != "" {
		return p.Name, nil
	}
	return suggested, nil
}

func (p AutoPrompter) ConfirmReplace(path string) (bool, error) {
	if !p.Force {
		return false, fmt.Errorf("%s already exists", path)
	}
	return true, nil
}

// DefaultOutputName suggests an output name for the input file, without the
// .pdf suffix.
func DefaultOutputName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_pocketmod"
}

// ResolveOutputPath turns prompter answers into the final output path under
// dir. A missing .pdf suffix is appended. While the chosen file exists and
// the prompter declines to replace it, the name question is asked again.
func ResolveOutputPath(p Prompter, dir, inputPath string) (string, error) {
	suggested := DefaultOutputName(inputPath)
	for {
		name, err := p.OutputName(suggested)
		if err != nil {
			return "", err
		}
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			name += ".pdf"
		}
		path := name
		if dir != "" {
			path = filepath.Join(dir, name)
		}

		_, err = os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}

		ok, err := p.ConfirmReplace(path)
		if err != nil {
			return "", err
		}
		if ok {
			return path, nil
		}
	}
}
