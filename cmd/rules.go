package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guardbook/guardbook/internal/config"
	"github.com/guardbook/guardbook/internal/dependency"
	"github.com/guardbook/guardbook/internal/schema"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect notification rules",
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesReconcileCmd)
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, scope, err := openScoped(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		rules, err := c.Rules().List(cmd.Context(), scope)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No rules.")
			return nil
		}
		fmt.Printf("%-36s %-30s %-12s %-18s %-8s %s\n", "ID", "Description", "Kind", "Frequency", "Active", "Jobs")
		for _, r := range rules {
			fmt.Printf("%-36s %-30s %-12s %-18s %-8v %d\n",
				r.ID, truncate(r.Description, 29), r.Kind, r.FrequencyPolicy, r.IsActive, len(r.MaterializedJobIDs))
		}
		return nil
	},
}

var rulesReconcileCmd = &cobra.Command{
	Use:   "reconcile <rule-id>",
	Short: "Re-run reconciliation for a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, scope, err := openScoped(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		rule, err := c.Rules().Get(cmd.Context(), scope, args[0])
		if err != nil {
			return err
		}
		if err := c.Reconciler().Reconcile(cmd.Context(), scope, rule); err != nil {
			return err
		}
		fmt.Printf("Rule %s reconciled.\n", rule.ID)
		return nil
	},
}

// openScoped loads config, builds the container and resolves --tenant.
func openScoped(ctx context.Context) (*dependency.Container, schema.TenantScope, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, schema.TenantScope{}, err
	}
	if tenantFlag == "" {
		return nil, schema.TenantScope{}, fmt.Errorf("--tenant is required")
	}
	scope, ok := cfg.Tenant(tenantFlag)
	if !ok {
		return nil, schema.TenantScope{}, fmt.Errorf("tenant %q not configured", tenantFlag)
	}
	c, err := dependency.New(ctx, cfg)
	if err != nil {
		return nil, schema.TenantScope{}, err
	}
	return c, scope, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
