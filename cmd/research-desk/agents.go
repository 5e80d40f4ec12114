// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-desk/internal/store"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage stored agent profiles (import, export, list, show)",
	Long: `Agents manages the profiles kept in the document store. A task that
names an agent_id picks up the profile's model, tone, domains and prompt
templates. Profiles are exchanged as YAML seed documents.`,
}

// --- import subcommand ---

var agentsImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import agent profiles from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsImport,
}

func runAgentsImport(cmd *cobra.Command, args []string) error {
	st, err := mustOpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	n, err := st.ImportYAML(context.Background(), f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d agent(s)\n", n)
	return nil
}

// --- export subcommand ---

var agentsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every stored agent profile as YAML",
	RunE:  runAgentsExport,
}

func runAgentsExport(cmd *cobra.Command, args []string) error {
	st, err := mustOpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		return st.ExportYAML(context.Background(), os.Stdout)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}
	if err := st.ExportYAML(context.Background(), f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// --- list subcommand ---

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored agent profiles",
	RunE:  runAgentsList,
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	st, err := mustOpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	agents, err := st.ListAgents(context.Background())
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("no agents stored")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBASE\tNAME\tMODEL\tPROMPTS")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", a.ID, a.BaseID, a.Name, a.Model, len(a.Prompts))
	}
	return w.Flush()
}

// --- show subcommand ---

var agentsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one agent profile with inherited fields resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsShow,
}

func runAgentsShow(cmd *cobra.Command, args []string) error {
	st, err := mustOpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	a, err := st.Agent(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("agent %q: %w", args[0], err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling agent: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// mustOpenStore opens the store for commands that cannot run without it.
func mustOpenStore() (*store.Store, error) {
	cfg := loadConfig()
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return nil, fmt.Errorf("store.path is not configured")
	}
	return store.Open(cfg.Store.Path)
}

func init() {
	agentsExportCmd.Flags().StringP("output", "o", "", "write YAML to this file instead of stdout")

	agentsCmd.AddCommand(agentsImportCmd)
	agentsCmd.AddCommand(agentsExportCmd)
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsShowCmd)
	rootCmd.AddCommand(agentsCmd)
}
