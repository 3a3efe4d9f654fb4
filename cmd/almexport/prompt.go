package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"github.com/Sternrassler/alm-export/pkg/config"
	"golang.org/x/term"
)

// maxPrompts bounds the number of missing preferences asked for in one run.
const maxPrompts = 16

// prompter asks the user for missing values on the terminal.
type prompter struct {
	in           *bufio.Reader
	out          io.Writer
	interactive  bool
	readPassword func() (string, error)
	currentUser  func() (string, error)
}

func newTerminalPrompter() *prompter {
	fd := int(os.Stdin.Fd())
	return &prompter{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: term.IsTerminal(fd),
		readPassword: func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			return string(b), err
		},
		currentUser: systemUser,
	}
}

func systemUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	name := u.Username
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	return name, nil
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.ask(question + " [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *prompter) password(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	return p.readPassword()
}

// fillMissing prompts for every required preference reported by validate
// until it passes. Non-interactive sessions return the first error as is.
func (p *prompter) fillMissing(prefs *config.Preferences, validate func(config.Preferences) error) error {
	for i := 0; i < maxPrompts; i++ {
		err := validate(*prefs)
		var missing *config.MissingRequiredFieldError
		if !errors.As(err, &missing) || !p.interactive {
			return err
		}

		value, err := p.valueFor(missing.Field)
		if err != nil {
			return fmt.Errorf("prompt for %s: %w", missing.Field, err)
		}
		if value == "" {
			return missing
		}
		if err := prefs.Set(missing.Field, value); err != nil {
			return err
		}
	}
	return validate(*prefs)
}

func (p *prompter) valueFor(field string) (string, error) {
	switch field {
	case "alm.password":
		return p.password("Password [" + field + "]")
	case "alm.username":
		if name, err := p.currentUser(); err == nil && name != "" {
			ok, err := p.confirm(fmt.Sprintf("Detected username %q, is this correct?", name))
			if err != nil {
				return "", err
			}
			if ok {
				return name, nil
			}
		}
		return p.ask("Username [" + field + "]")
	default:
		return p.ask(field)
	}
}
