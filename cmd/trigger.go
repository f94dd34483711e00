package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <rule-id>",
	Short: "Force-fire the evaluator for a rule, bypassing the schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, scope, err := openScoped(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Runtime().TriggerNow(cmd.Context(), scope, args[0]); err != nil {
			return err
		}
		fmt.Printf("Rule %s evaluated.\n", args[0])
		return nil
	},
}
