/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Check a pool directory and its pool.toml",
		Long: `Validate checks that a pool directory can be served: that pool.toml parses,
every listed image exists and is a supported type, and pair keys are unique.
A pool with fewer than two images is reported as a warning, since players can
still upload their own.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := checkPool(args[0])
			if err != nil {
				return err
			}

			return printReport(cmd.OutOrStdout(), args[0], report)
		},
	}
}

func printReport(w io.Writer, dir string, report *PoolReport) error {
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed, color.Bold)
	warn := color.New(color.FgYellow)

	source := "directory listing"
	if report.Manifest {
		source = manifestName
	}
	fmt.Fprintf(w, "%s: %d images from %s\n", dir, report.Items, source)

	if len(report.Problems) > 0 {
		bad.Fprintf(w, "%d problems:\n", len(report.Problems))
		for i, p := range report.Problems {
			fmt.Fprintf(w, "%d. %s\n", i+1, p)
		}
	} else {
		ok.Fprintln(w, "pool is valid")
	}

	for _, msg := range report.Warnings {
		warn.Fprintf(w, "warning: %s\n", msg)
	}

	if len(report.Problems) > 0 {
		return errors.New("validation failed")
	}

	return nil
}
