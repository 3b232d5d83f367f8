package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/secrets"
)

// NewSecretCommand returns the secret subcommand.
func NewSecretCommand() *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "Manage encrypted values in the .env file",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the age key used to encrypt .env values",
				Action: runSecretInit,
			},
			{
				Name:      "set",
				Usage:     "Encrypt a value and store it in .env (reads stdin when VALUE is omitted)",
				ArgsUsage: "<KEY> [VALUE]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "plain",
						Usage: "Store the value unencrypted",
					},
				},
				Action: runSecretSet,
			},
			{
				Name:   "list",
				Usage:  "List the keys defined in .env",
				Action: runSecretList,
			},
		},
	}
}

func runSecretInit(_ context.Context, _ *cli.Command) error {
	path := secrets.KeyPath()
	recipient, err := secrets.GenerateIdentity(path)
	if err != nil {
		return err
	}
	p := newPrinter()
	p.field("Key", path)
	p.field("Recipient", recipient)
	return nil
}

func runSecretSet(_ context.Context, cmd *cli.Command) error {
	args := cmd.Args()
	key := args.Get(0)
	if key == "" || args.Len() > 2 {
		return errors.New("usage: storybook secret set <KEY> [VALUE]")
	}

	value := args.Get(1)
	if args.Len() < 2 {
		v, err := readSecret(key)
		if err != nil {
			return err
		}
		value = v
	}

	if !cmd.Bool("plain") {
		sealed, err := secrets.NewKeyring(secrets.KeyPath()).Seal(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		value = sealed
	}
	if err := secrets.SetEntry(config.DotenvPath(), key, value); err != nil {
		return err
	}
	p := newPrinter()
	p.printf("%s %s in %s\n", p.render(okStyle, "stored"), key, config.DotenvPath())
	return nil
}

// readSecret reads one line from stdin without echo when it is a terminal.
func readSecret(key string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s: ", key)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read value: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read value: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runSecretList(_ context.Context, _ *cli.Command) error {
	keys, err := secrets.Keys(config.DotenvPath())
	if err != nil {
		return fmt.Errorf("read .env: %w", err)
	}
	p := newPrinter()
	if len(keys) == 0 {
		p.println("No entries in " + config.DotenvPath())
		return nil
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, k := range names {
		state := "plain"
		if keys[k] {
			state = "encrypted"
		}
		rows = append(rows, []string{k, state})
	}
	return p.table([]string{"KEY", "VALUE"}, rows)
}
