package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/flags"
)

func flagsCommand() *cli.Command {
	return &cli.Command{
		Name:  "flags",
		Usage: "Manage detector flags (<protocol>.<type>, <protocol> or <type>)",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List detector flags",
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, s *flags.Store) error {
						items, err := s.List(ctx)
						if err != nil {
							return err
						}
						w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
						fmt.Fprintln(w, "KEY\tENABLED\tUPDATED")
						for _, f := range items {
							fmt.Fprintf(w, "%s\t%t\t%s\n", f.Key, f.Enabled, f.UpdatedAt.Format(time.RFC3339))
						}
						return w.Flush()
					})
				},
			},
			{
				Name:      "set",
				Usage:     "Enable or disable detectors",
				ArgsUsage: "KEY true|false",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected KEY and true|false")
					}
					enabled, err := strconv.ParseBool(c.Args().Get(1))
					if err != nil {
						return fmt.Errorf("invalid value %q: %w", c.Args().Get(1), err)
					}
					return withStore(c, func(ctx context.Context, s *flags.Store) error {
						f, err := s.Upsert(ctx, c.Args().First(), enabled)
						if err != nil {
							return err
						}
						fmt.Printf("%s = %t\n", f.Key, f.Enabled)
						return nil
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Remove a flag, restoring the default (enabled)",
				ArgsUsage: "KEY",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected KEY")
					}
					return withStore(c, func(ctx context.Context, s *flags.Store) error {
						return s.Delete(ctx, c.Args().First())
					})
				},
			},
		},
	}
}

func withStore(c *cli.Context, fn func(context.Context, *flags.Store) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := connectRedis(ctx, c)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := flags.NewStore(client)
	if err != nil {
		return err
	}
	return fn(ctx, store)
}
