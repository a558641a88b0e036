package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back ledger and billing schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(d, func(m migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			return withMigrator(d, func(m migrator) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
	down.Flags().Int("steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(d, func(m migrator) error {
				return printVersion(cmd, m)
			})
		},
	})
	return cmd
}

func withMigrator(d *deps, fn func(m migrator) error) error {
	m, err := d.openMigrator()
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return fn(m)
}

func printVersion(cmd *cobra.Command, m migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
