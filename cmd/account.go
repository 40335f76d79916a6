package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/tcfbot/internal/accounts"
	"github.com/example/tcfbot/internal/controller"
	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/engine"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage candidate portal accounts",
	}
	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountImportCmd())
	cmd.AddCommand(newAccountRemoveCmd())
	return cmd
}

// offlineController drives storage only; its engine is never started.
func offlineController(ctx context.Context, a *app) *controller.Controller {
	return controller.New(ctx, engine.New(engine.Options{Log: a.log}), a.store, a.log)
}

func newAccountAddCmd() *cobra.Command {
	var acc domain.Account

	c := &cobra.Command{
		Use:   "add",
		Short: "Add one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := offlineController(ctx, a).InsertAccount(ctx, acc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added account %s\n", acc.Email)
			return nil
		},
	}

	c.Flags().StringVar(&acc.Email, "email", "", "portal email")
	c.Flags().StringVar(&acc.Password, "password", "", "portal password")
	c.Flags().IntVar(&acc.Antenna, "antenna", domain.DefaultAntenna, "antenna code (1 Alger, 2 Oran, 3 Annaba, 4 Constantine, 5 Tlemcen)")
	c.Flags().IntVar(&acc.Exam, "exam", domain.DefaultExam, "exam code (1 TCF SO, 2 TCF Canada, 3 DAP)")
	c.Flags().IntVar(&acc.Motivation, "motivation", domain.DefaultMotivation, "motivation code (1, 3, 4, 5)")
	_ = c.MarkFlagRequired("email")
	_ = c.MarkFlagRequired("password")
	return c
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			accs, err := a.store.Accounts(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tANTENNA\tEXAM\tMOTIVATION\tRESERVED")
			for _, acc := range accs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", acc.Email, domain.Antennas[acc.Antenna], acc.ExamTitle(),
					domain.Motivations[acc.Motivation], acc.Reserved)
			}
			return w.Flush()
		},
	}
}

func newAccountImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import accounts from a YAML or JSON file, skipping known emails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := accounts.LoadFile(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			added, err := offlineController(ctx, a).ImportAccounts(ctx, list)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d accounts\n", added, len(list))
			return nil
		},
	}
}

func newAccountRemoveCmd() *cobra.Command {
	var email string
	c := &cobra.Command{
		Use:   "remove",
		Short: "Remove an account and its reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := offlineController(ctx, a).RemoveAccount(ctx, email); err != nil {
				return fmt.Errorf("remove %s: %w", email, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed account %s\n", email)
			return nil
		},
	}
	c.Flags().StringVar(&email, "email", "", "portal email")
	_ = c.MarkFlagRequired("email")
	return c
}
