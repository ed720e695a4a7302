package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/foreman-dev/foreman/internal/store"
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Manage teams",
}

var (
	teamAddAgents string
	teamAddRepo   string
	teamAddModel  string
)

var teamAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Create a team, its agents, and its first repo",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamAdd,
}

var teamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all teams",
	Args:  cobra.NoArgs,
	RunE:  runTeamList,
}

var (
	teamRemoveYes bool
)

var teamRemoveCmd = &cobra.Command{
	Use:   "remove <slug>",
	Short: "Delete a team and its tasks, roster, and repos",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamRemove,
}

func init() {
	teamAddCmd.Flags().StringVar(&teamAddAgents, "agents", "3", "agent count (N) or comma-separated names")
	teamAddCmd.Flags().StringVar(&teamAddRepo, "repo", "", "path to the team's first repo (required)")
	teamAddCmd.Flags().StringVar(&teamAddModel, "model", "", "default model, or per-agent name:model pairs (comma-separated)")
	teamAddCmd.MarkFlagRequired("repo")

	teamRemoveCmd.Flags().BoolVar(&teamRemoveYes, "yes", false, "skip the confirmation prompt")

	teamCmd.AddCommand(teamAddCmd, teamListCmd, teamRemoveCmd)
}

func runTeamAdd(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	slug := args[0]
	team, err := db.CreateTeam(slug)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}

	modelFor := parseModelSpec(teamAddModel)
	names := parseAgentSpec(teamAddAgents)
	for _, name := range names {
		model := modelFor["default"]
		if m, ok := modelFor[name]; ok {
			model = m
		}
		if _, err := db.CreateAgent(team.ID, name, "", model, ""); err != nil {
			return fmt.Errorf("create agent %s: %w", name, err)
		}
		printStatus("✓", fmt.Sprintf("agent %s added", name), color.FgGreen)
	}

	if _, err := db.RegisterRepo(team.ID, repoDefaultName(teamAddRepo), teamAddRepo, store.ApprovalManual, nil); err != nil {
		return fmt.Errorf("register repo: %w", err)
	}
	printStatus("✓", fmt.Sprintf("repo %s registered", teamAddRepo), color.FgGreen)

	fmt.Printf("team %q created with %d agent(s)\n", team.Name, len(names))
	return nil
}

func runTeamList(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	teams, err := db.ListTeams()
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}
	if len(teams) == 0 {
		fmt.Println("no teams yet")
		return nil
	}
	for _, team := range teams {
		roster, err := db.ListRoster(team.ID)
		if err != nil {
			return fmt.Errorf("list roster for %s: %w", team.Name, err)
		}
		fmt.Printf("%s\t%d roster\t%s\n", team.Name, len(roster), team.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func runTeamRemove(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	slug := args[0]
	team, err := mustTeam(db, slug)
	if err != nil {
		return err
	}

	if !teamRemoveYes {
		fmt.Printf("This will permanently delete team %q, its tasks, roster, and repos. Type the team name to confirm: ", slug)
		var confirm string
		fmt.Scanln(&confirm)
		if confirm != slug {
			return fmt.Errorf("confirmation did not match, aborting")
		}
	}

	if err := db.DeleteTeam(team.ID); err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	fmt.Printf("team %q deleted\n", slug)
	return nil
}

// parseAgentSpec turns --agents' "N" or "name,name,name" form into a
// concrete list of agent names.
func parseAgentSpec(spec string) []string {
	if n, err := strconv.Atoi(spec); err == nil {
		names := make([]string, n)
		for i := 0; i < n; i++ {
			names[i] = fmt.Sprintf("agent-%d", i+1)
		}
		return names
	}
	var names []string
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// parseModelSpec turns --model's bare "opus"/"sonnet" form, or its
// "name:model,name:model" per-agent form, into a lookup keyed by agent
// name, with "default" holding the bare form if given.
func parseModelSpec(spec string) map[string]string {
	out := map[string]string{}
	if spec == "" {
		return out
	}
	if !strings.Contains(spec, ":") {
		out["default"] = resolveModelAlias(spec)
		return out
	}
	for _, pair := range strings.Split(spec, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = resolveModelAlias(strings.TrimSpace(kv[1]))
	}
	return out
}

func resolveModelAlias(alias string) string {
	switch alias {
	case "opus":
		return "claude-opus-4-5-20251101"
	case "sonnet":
		return "claude-sonnet-4-20250514"
	default:
		return alias
	}
}

func repoDefaultName(path string) string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	if len(parts) == 0 {
		return path
	}
	return parts[len(parts)-1]
}
