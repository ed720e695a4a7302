package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foreman-dev/foreman/internal/protect"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage the outbound network allowlist",
}

var networkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the domains agents may reach",
	Args:  cobra.NoArgs,
	RunE:  runNetworkShow,
}

var networkAllowCmd = &cobra.Command{
	Use:   "allow <domain>",
	Short: "Add a domain (or *.suffix) to the allowlist",
	Args:  cobra.ExactArgs(1),
	RunE:  runNetworkAllow,
}

var networkDisallowCmd = &cobra.Command{
	Use:   "disallow <domain>",
	Short: "Remove a domain from the allowlist",
	Args:  cobra.ExactArgs(1),
	RunE:  runNetworkDisallow,
}

var networkResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the curated default allowlist",
	Args:  cobra.NoArgs,
	RunE:  runNetworkReset,
}

func init() {
	networkCmd.AddCommand(networkShowCmd, networkAllowCmd, networkDisallowCmd, networkResetCmd)
}

func networkPath(home string) string {
	return filepath.Join(home, "protected", "network.yaml")
}

func runNetworkShow(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	a, err := protect.Load(networkPath(home))
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}
	for _, entry := range a.Entries() {
		fmt.Println(entry)
	}
	return nil
}

func runNetworkAllow(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	a, err := protect.Load(networkPath(home))
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}
	if err := a.Allow(args[0]); err != nil {
		return fmt.Errorf("allow %s: %w", args[0], err)
	}
	fmt.Printf("%s added to allowlist\n", args[0])
	return nil
}

func runNetworkDisallow(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	a, err := protect.Load(networkPath(home))
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}
	if err := a.Disallow(args[0]); err != nil {
		return fmt.Errorf("disallow %s: %w", args[0], err)
	}
	fmt.Printf("%s removed from allowlist\n", args[0])
	return nil
}

func runNetworkReset(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	a, err := protect.Load(networkPath(home))
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}
	if err := a.Reset(); err != nil {
		return fmt.Errorf("reset allowlist: %w", err)
	}
	fmt.Println("allowlist reset to defaults")
	return nil
}
