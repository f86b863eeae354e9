// Package main provides treewatch, the command line client of the treewatch daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	addrFlag   string
	outputFlag string
)

var rootCmd = &cobra.Command{
	Use:   "treewatch",
	Short: "Query a treewatch daemon",
	Long: `treewatch sends commands to a running treewatchd.

Cursors are either a clock returned by a previous command (c:<epoch>:<seq>)
or a named cursor (n:<name>) that the daemon advances on every since.

Example usage:
  treewatch watch ~/src/project
  treewatch since ~/src/project n:build
  treewatch find ~/src/project '*.go'`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		switch outputFlag {
		case outputJSON, outputYAML:
			return nil
		default:
			return fmt.Errorf("unknown output format %q (want json or yaml)", outputFlag)
		}
	},
}

func init() {
	defaultAddr := os.Getenv("TREEWATCH_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:7474"
	}
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", defaultAddr, "daemon address (host:port or URL)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", outputJSON, "output format: json or yaml")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", apiErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
