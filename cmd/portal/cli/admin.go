package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wispberry-tech/wispy-admin/core"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage agents and admin passwords",
		Long:  "Bootstrap agents, set up admin passwords, change access and inspect the activity log.",
	}

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setupLogger()
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())
	cmd.AddCommand(newAdminSetupPasswordCmd())
	cmd.AddCommand(newAdminSetAccessCmd())
	cmd.AddCommand(newAdminMigrateHashesCmd())
	cmd.AddCommand(newAdminActivitiesCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new agent",
		Example: `  portal admin create --email chief@example.org --role admin
  portal admin create --email volunteer@example.org --name "Sam Doe"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(cmd.Context(), email, password, name, role)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Agent email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Member password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Agent display name")
	cmd.Flags().StringVar(&role, "role", string(core.RoleMember), "Role: member or admin")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAdminCreate(ctx context.Context, email, password, name, role string) error {
	if password == "" {
		var err error
		if password, err = promptConfirmedPassword("Member password: "); err != nil {
			return err
		}
	}

	admin, err := newAdminService()
	if err != nil {
		return err
	}
	defer admin.Close()

	identity, err := admin.RegisterIdentity(ctx, core.RegisterIdentityRequest{
		Email:    email,
		FullName: name,
		Password: password,
		Role:     core.Role(role),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created agent %q (id %s, role %s)\n", identity.Email, identity.ID, identity.Role)
	if identity.Role == core.RoleAdmin {
		fmt.Printf("Set the admin password with: portal admin setup-password --id %s\n", identity.ID)
	}
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(cmd.Context(), limit, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of agents")

	return cmd
}

func runAdminList(ctx context.Context, limit int, jsonOutput bool) error {
	admin, err := newAdminService()
	if err != nil {
		return err
	}
	defer admin.Close()

	agents, err := admin.ListAgents(ctx, limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(agents)
	}

	if len(agents) == 0 {
		fmt.Println("No agents found. Use 'portal admin create' to create one.")
		return nil
	}

	fmt.Printf("%-36s %-30s %-8s %-8s %-10s %-6s\n", "ID", "EMAIL", "ROLE", "ACTIVE", "ADMIN PWD", "GATE")
	fmt.Printf("%-36s %-30s %-8s %-8s %-10s %-6s\n", "--", "-----", "----", "------", "---------", "----")
	for _, a := range agents {
		fmt.Printf("%-36s %-30s %-8s %-8s %-10s %-6s\n", a.ID, a.Email, a.Role, yesNo(a.IsActive), yesNo(a.HasAdminCredential()), yesNo(a.IsAdmin()))
	}
	return nil
}

// ---------- admin setup-password ----------

func newAdminSetupPasswordCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "setup-password",
		Short: "Set up or rotate the admin password of an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminSetupPassword(cmd.Context(), id)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Agent id (required)")
	cmd.MarkFlagRequired("id")

	return cmd
}

func runAdminSetupPassword(ctx context.Context, id string) error {
	password, err := promptPassword("Admin password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm admin password: ")
	if err != nil {
		return err
	}

	admin, err := newAdminService()
	if err != nil {
		return err
	}
	defer admin.Close()

	result := admin.SetupAdminCredential(ctx, id, password, confirm)
	if !result.Success {
		for field, msg := range result.FieldErrors {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
		}
		return fmt.Errorf("%s", result.Error)
	}

	if result.Rotated {
		fmt.Println("Admin password rotated")
	} else {
		fmt.Println("Admin password set up")
	}
	return nil
}

// ---------- admin set-access ----------

func newAdminSetAccessCmd() *cobra.Command {
	var (
		id     string
		role   string
		active bool
	)

	cmd := &cobra.Command{
		Use:   "set-access",
		Short: "Change the role and active status of an agent",
		Example: `  portal admin set-access --id 5f0c... --role member
  portal admin set-access --id 5f0c... --role admin --active=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminSetAccess(cmd.Context(), id, role, active)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Agent id (required)")
	cmd.Flags().StringVar(&role, "role", "", "Role: member or admin (required)")
	cmd.Flags().BoolVar(&active, "active", true, "Whether the agent is active")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("role")

	return cmd
}

func runAdminSetAccess(ctx context.Context, id, role string, active bool) error {
	admin, err := newAdminService()
	if err != nil {
		return err
	}
	defer admin.Close()

	agent, err := admin.UpdateAgentAccess(ctx, "", id, core.AgentAccessRequest{
		Role:     core.Role(role),
		IsActive: &active,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Agent %q is now role=%s active=%s\n", agent.Email, agent.Role, yesNo(agent.IsActive))
	return nil
}

// ---------- admin migrate-hashes ----------

func newAdminMigrateHashesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-hashes",
		Short: "Upgrade legacy SHA-256 admin password hashes to bcrypt",
		Long: `Wraps every stored legacy SHA-256 admin password digest in bcrypt. Admins keep
their current password; no plaintext is needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdminService()
			if err != nil {
				return err
			}
			defer admin.Close()

			report, err := admin.MigrateLegacyHashes(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Upgraded %d, skipped %d, failed %d\n", report.Upgraded, report.Skipped, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d admin hashes could not be upgraded", report.Failed)
			}
			return nil
		},
	}
}

// ---------- admin activities ----------

func newAdminActivitiesCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "activities",
		Short: "Show the most recent activity log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdminService()
			if err != nil {
				return err
			}
			defer admin.Close()

			activities, err := admin.ListActivities(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(activities)
			}

			for _, a := range activities {
				user := "-"
				if a.UserID != nil {
					user = *a.UserID
				}
				fmt.Printf("%s  %-28s %-36s %s\n", a.CreatedAt.Format("2006-01-02 15:04:05"), a.ActivityType, user, a.Description)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func promptConfirmedPassword(label string) (string, error) {
	password, err := promptPassword(label)
	if err != nil {
		return "", err
	}
	confirm, err := promptPassword("Confirm " + strings.ToLower(label))
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
