package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect scheduled jobs",
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's scheduled jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, scope, err := openScoped(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		jobs, err := c.Registry().ListByTenant(cmd.Context(), scope.ID)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No scheduled jobs.")
			return nil
		}
		fmt.Printf("%-36s %-36s %-10s %-8s %-12s %s\n", "ID", "Rule", "Window", "One-off", "State", "Next Run")
		for _, j := range jobs {
			nextRun := ""
			if j.NextRunAt != nil {
				nextRun = j.NextRunAt.Format("2006-01-02 15:04 MST")
			}
			fmt.Printf("%-36s %-36s %-10s %-8v %-12s %s\n",
				j.ID, j.RuleID, j.Recurrence.Window.String(), j.OneOff, j.State, nextRun)
		}
		return nil
	},
}
