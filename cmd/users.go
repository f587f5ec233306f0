package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/numberwatch/internal/app"
	"github.com/JakeFAU/numberwatch/internal/storage/postgres/migrations"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manages user watches",
	}

	var (
		userID int64
		number string
		label  string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Registers a number for a user",
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			w, err := appInstance.AddWatch(cmd.Context(), userID, number, label)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		}),
	}
	add.Flags().Int64Var(&userID, "user", 0, "user id")
	add.Flags().StringVar(&number, "number", "", "number as NNN/YYYY or NNN/CODE/YYYY")
	add.Flags().StringVar(&label, "label", "", "optional label")
	_ = add.MarkFlagRequired("user")
	_ = add.MarkFlagRequired("number")

	var watchID int64
	toggle := &cobra.Command{
		Use:   "toggle",
		Short: "Enables or disables a user's watch",
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			w, err := appInstance.ToggleWatch(cmd.Context(), userID, watchID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		}),
	}
	remove := &cobra.Command{
		Use:   "delete",
		Short: "Removes a user's watch",
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			if err := appInstance.DeleteWatch(cmd.Context(), userID, watchID); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "watch %d deleted\n", watchID)
			return err
		}),
	}
	for _, c := range []*cobra.Command{toggle, remove} {
		c.Flags().Int64Var(&userID, "user", 0, "user id")
		c.Flags().Int64Var(&watchID, "id", 0, "watch id")
		_ = c.MarkFlagRequired("user")
		_ = c.MarkFlagRequired("id")
	}

	cmd.AddCommand(add, toggle, remove)
	return cmd
}

func newContactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Manages user notification settings",
	}

	var userID int64
	cmd.PersistentFlags().Int64Var(&userID, "user", 0, "user id")
	_ = cmd.MarkPersistentFlagRequired("user")

	var email, phone string
	var emailOn, phoneOn bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Updates the user's email, phone and enabled channels",
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			var c app.Contact
			flags := cmd.Flags()
			if flags.Changed("email") {
				c.Email = &email
			}
			if flags.Changed("phone") {
				c.Phone = &phone
			}
			if flags.Changed("email-enabled") {
				c.EmailEnabled = &emailOn
			}
			if flags.Changed("phone-enabled") {
				c.PhoneEnabled = &phoneOn
			}
			settings, err := appInstance.SetContact(cmd.Context(), userID, c)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"user_id":        settings.UserID,
				"email":          settings.Email(),
				"phone":          settings.Phone(),
				"email_enabled":  settings.EmailEnabled,
				"email_verified": settings.EmailVerified,
				"phone_enabled":  settings.PhoneEnabled,
				"phone_verified": settings.PhoneVerified,
			})
		}),
	}
	set.Flags().StringVar(&email, "email", "", "email address")
	set.Flags().StringVar(&phone, "phone", "", "phone number")
	set.Flags().BoolVar(&emailOn, "email-enabled", false, "deliver matches by email")
	set.Flags().BoolVar(&phoneOn, "phone-enabled", false, "deliver matches by SMS")

	verify := &cobra.Command{
		Use:       "verify <email|phone> [code]",
		Short:     "Sends a verification code, or confirms one when given",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"email", "phone"},
		RunE: withApp(func(cmd *cobra.Command, args []string, appInstance App) error {
			if len(args) == 1 {
				if _, err := appInstance.StartVerification(cmd.Context(), userID, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "verification code sent")
				return err
			}
			var code int
			if _, err := fmt.Sscanf(args[1], "%d", &code); err != nil {
				return fmt.Errorf("invalid code %q", args[1])
			}
			ok, err := appInstance.ConfirmVerification(cmd.Context(), userID, code)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("verification code does not match")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s verified\n", args[0])
			return err
		}),
	}

	cmd.AddCommand(set, verify)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Applies or reverts the database schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: withApp(func(cmd *cobra.Command, args []string, appInstance App) error {
			dir, err := migrations.ParseDirection(args[0])
			if err != nil {
				return err
			}
			changed, err := appInstance.Migrate(dir)
			if err != nil {
				return err
			}
			if !changed {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema already up to date")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", dir)
			return err
		}),
	}
}
