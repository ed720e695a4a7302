package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Persistent multi-agent team daemon",
	Long: `Foreman runs a long-lived daemon that dispatches a roster of
Claude agents and human members across teams, each working a shared
task queue against one or more git repos.

Core capabilities:
- Admits a bounded number of agents per cycle and drives each through
  one conversational turn (internal/dispatcher)
- Routes inbox messages and surfaces human-addressed ones (internal/router)
- Rebases and fast-forwards finished task branches onto main, retrying
  retryable merge failures with backoff (internal/merge)
- Exposes the daemon's state over a small HTTP API and SSE stream
  (internal/httpapi)
- Gates outbound network access per an editable domain allowlist
  (internal/protect)

Available commands:
  start      Start the daemon
  stop       Stop the running daemon
  status     Show team/task/roster status
  team       Manage teams
  agent      Manage per-team agents
  member     Manage org-global human members
  repo       Manage registered repos
  network    Manage the outbound network allowlist
  nuke       Delete all daemon state
  version    Show version information

Use "foreman [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version()

	rootCmd.PersistentFlags().String("home", "", "daemon home directory (default: $FOREMAN_HOME or ~/.foreman)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(teamCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(memberCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(nukeCmd)
}

// resolveHome returns the --home flag value if set, otherwise
// config.GetHomeDir()'s FOREMAN_HOME/~/.foreman resolution.
func resolveHome(cmd *cobra.Command) string {
	home, _ := cmd.Flags().GetString("home")
	if home != "" {
		return home
	}
	return defaultHome()
}
