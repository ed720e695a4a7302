package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage per-team agents",
}

var (
	agentAddRole  string
	agentAddModel string
	agentAddBio   string
)

var agentAddCmd = &cobra.Command{
	Use:   "add <team> [<name>]",
	Short: "Add an agent to a team's roster",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAgentAdd,
}

func init() {
	agentAddCmd.Flags().StringVar(&agentAddRole, "role", "", "agent's role description")
	agentAddCmd.Flags().StringVar(&agentAddModel, "model", "claude-sonnet-4-20250514", "model name, or opus|sonnet alias")
	agentAddCmd.Flags().StringVar(&agentAddBio, "bio", "", "agent's bio text")

	agentCmd.AddCommand(agentAddCmd)
}

func runAgentAdd(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	team, err := mustTeam(db, args[0])
	if err != nil {
		return err
	}

	var name string
	if len(args) == 2 {
		name = args[1]
	} else {
		existing, err := db.ListAgents(team.ID)
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}
		name = fmt.Sprintf("agent-%d", len(existing)+1)
	}

	agent, err := db.CreateAgent(team.ID, name, agentAddRole, resolveModelAlias(agentAddModel), agentAddBio)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	fmt.Printf("agent %q added to team %q\n", agent.Name, team.Name)
	return nil
}
