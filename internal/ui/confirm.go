package ui

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned when confirmation is needed but stdin is
// not a terminal.
var ErrNotInteractive = errors.New("confirmation required; rerun with --yes")

// Confirm asks a yes/no question. assumeYes skips the prompt.
func Confirm(title, description, affirmative string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !IsTerminal(os.Stdin) {
		return false, ErrNotInteractive
	}

	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative(affirmative).
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
