package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foreman-dev/foreman/internal/singleton"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)

	stopped, err := singleton.Stop(home, singleton.DefaultStopTimeout)
	if err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	if !stopped {
		fmt.Println("no daemon is running")
		return nil
	}
	fmt.Println("daemon stopped")
	return nil
}
