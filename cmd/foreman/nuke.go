package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foreman-dev/foreman/internal/singleton"
)

const nukeConfirmPhrase = "delete everything"

var nukeCmd = &cobra.Command{
	Use:   "nuke",
	Short: "Delete all daemon state",
	Long: `Nuke permanently deletes the home directory: every team, task,
message, repo registration, and config file. It refuses to run while a
daemon is running, and requires typing the confirmation phrase exactly.`,
	Args: cobra.NoArgs,
	RunE: runNuke,
}

func runNuke(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)

	running, pid, err := singleton.Status(home)
	if err != nil {
		return fmt.Errorf("check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon is running (pid=%d); run `foreman stop` first", pid)
	}

	fmt.Printf("This will permanently delete %s and everything under it.\n", home)
	fmt.Printf("Type %q to confirm: ", nukeConfirmPhrase)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("aborted: no confirmation given")
	}
	if strings.TrimSpace(line) != nukeConfirmPhrase {
		return fmt.Errorf("confirmation phrase did not match, aborting")
	}

	if err := os.RemoveAll(home); err != nil {
		return fmt.Errorf("remove %s: %w", home, err)
	}
	fmt.Printf("%s deleted\n", home)
	return nil
}
