package main

import (
	"context"
	"errors"

	"github.com/charmbracelet/huh"
	"github.com/felixgeelhaar/replica-install/internal/cli"
)

// huhPrompter asks for secrets on the terminal.
type huhPrompter struct {
	ctx context.Context
}

func newHuhPrompter(ctx context.Context) cli.Prompter {
	return &huhPrompter{ctx: ctx}
}

// Password reads a value without echoing it.
func (p *huhPrompter) Password(title string) (string, error) {
	var value string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description("Needed to join the existing topology").
				EchoMode(huh.EchoModePassword).
				Value(&value).
				Validate(requireValue),
		),
	).RunWithContext(p.ctx)
	if err != nil {
		return "", err
	}
	return value, nil
}

func requireValue(s string) error {
	if s == "" {
		return errors.New("a value is required")
	}
	return nil
}
