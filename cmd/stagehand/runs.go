package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsOutputJSON bool

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.PersistentFlags().BoolVar(&runsOutputJSON, "json", false, "output as JSON")
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted run records",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, cleanup, err := openRunRepository(cmd, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := repo.List(cmd.Context())
		if err != nil {
			return err
		}
		if runsOutputJSON {
			return json.NewEncoder(os.Stdout).Encode(runs)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFEATURE\tSTATUS\tPID\tCREATED")
		for _, run := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
				run.ID, run.FeatureID, run.Status, run.PID, run.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, cleanup, err := openRunRepository(cmd, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		run, found, err := repo.FindByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("run %s not found", args[0])
		}
		if runsOutputJSON {
			return json.NewEncoder(os.Stdout).Encode(run)
		}
		b, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(b))
		return nil
	},
}
