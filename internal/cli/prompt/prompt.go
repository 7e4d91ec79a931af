// Package prompt asks the operator for confirmation on the terminal.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the operator presses Ctrl+C.
var ErrAborted = errors.New("aborted")

// Confirm asks a yes/no question. An empty answer is "no".
func Confirm(label string) (bool, error) {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	answer, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case err != nil:
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// ConfirmDanger requires the operator to type word exactly. It returns what was
// typed so the caller can pass it on to the operation being guarded.
func ConfirmDanger(label, word string) (string, error) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s (type %s to continue)", label, word),
		Validate: func(input string) error {
			if input != word {
				return fmt.Errorf("type %s to continue", word)
			}
			return nil
		},
	}

	typed, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return "", ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		return "", nil
	case err != nil:
		return "", err
	}
	return typed, nil
}
