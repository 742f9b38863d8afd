package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "rumspool",
		Short:         "Inspect and drive the on-device RUM batch spool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (YAML, TOML or JSON)")

	cfg := func() string { return cfgPath }
	root.AddCommand(newDemoCommand(cfg))
	root.AddCommand(newConsentCommand(cfg))
	root.AddCommand(newDrainCommand(cfg))
	root.AddCommand(newStatusCommand(cfg))
	return root
}
