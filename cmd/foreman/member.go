package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foreman-dev/foreman/internal/store"
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage org-global human members",
}

var memberAddBio string

var memberAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a human member, auto-joined to every team's roster",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberAdd,
}

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every human member",
	Args:  cobra.NoArgs,
	RunE:  runMemberList,
}

var memberRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a human member",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberRemove,
}

func init() {
	memberAddCmd.Flags().StringVar(&memberAddBio, "bio", "", "member's bio text")
	memberCmd.AddCommand(memberAddCmd, memberListCmd, memberRemoveCmd)
}

func runMemberAdd(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	member, err := db.CreateMember(args[0], memberAddBio)
	if err != nil {
		return fmt.Errorf("create member: %w", err)
	}
	fmt.Printf("member %q added\n", member.Name)
	return nil
}

func runMemberList(cmd *cobra.Command, args []string) error {
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

	seen := map[string]bool{}
	for _, team := range teams {
		roster, err := db.ListRoster(team.ID)
		if err != nil {
			return fmt.Errorf("list roster for %s: %w", team.Name, err)
		}
		for _, p := range roster {
			if p.Kind == store.KindMember && !seen[p.Name] {
				seen[p.Name] = true
				fmt.Println(p.Name)
			}
		}
	}
	if len(seen) == 0 {
		fmt.Println("no members yet")
	}
	return nil
}

func runMemberRemove(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RemoveParticipant(args[0]); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	fmt.Printf("member %q removed\n", args[0])
	return nil
}
