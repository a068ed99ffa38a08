package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/admin/client"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02 15:04"

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(dateLayout)
}

func pending(a client.Account) string {
	if a.PendingMachine == nil {
		return "-"
	}
	return *a.PendingMachine
}

func (c *console) usersCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "users",
		Aliases: []string{"ls", "list"},
		Short:   "List all accounts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(); err != nil {
				return err
			}
			users, err := c.api.ListUsers(cmd.Context())
			if err != nil {
				return explain(err)
			}

			names := make([]string, 0, len(users))
			for name := range users {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				a := users[name]
				rows = append(rows, []string{
					name,
					a.Plan,
					strconv.Itoa(a.DaysLeft),
					formatTime(a.PaidUntil),
					strconv.Itoa(len(a.Machines)),
					pending(a),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"username", "plan", "days left", "paid until", "machines", "pending"}, rows)
			return nil
		},
	}
}

func (c *console) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <username>",
		Short: "Show one account in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(); err != nil {
				return err
			}
			a, err := c.api.GetUser(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}

			rows := [][]string{
				{"username", a.Username},
				{"plan", a.Plan},
				{"days left", strconv.Itoa(a.DaysLeft)},
				{"paid until", formatTime(a.PaidUntil)},
				{"trial ends", formatTime(a.TrialEndsAt)},
				{"pending machine", pending(*a)},
				{"created", a.CreatedAt.Local().Format(dateLayout)},
			}
			for _, m := range a.Machines {
				bound := "-"
				if at, ok := a.MachineBoundAt[m]; ok {
					bound = at.Local().Format(dateLayout)
				}
				rows = append(rows, []string{"machine", m + " (bound " + bound + ")"})
			}
			printTable(cmd.OutOrStdout(), []string{"field", "value"}, rows)
			return nil
		},
	}
}

func (c *console) setPaidCommand(use, short string, exact bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username> <days>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("days must be a whole number: %q", args[1])
			}
			if err := c.authorize(); err != nil {
				return err
			}

			set := c.api.SetPaid
			if exact {
				set = c.api.SetPaidExact
			}
			res, err := set(cmd.Context(), args[0], days)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (paid until %s)\n", res.Message, formatTime(res.PaidUntil))
			return nil
		},
	}
}

func (c *console) resetPasswordCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "reset-password <username>",
		Short: "Replace a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(); err != nil {
				return err
			}
			if password == "" {
				var err error
				if password, err = c.readSecret(cmd.OutOrStdout(), "New password"); err != nil {
					return err
				}
			}
			res, err := c.api.ResetPassword(cmd.Context(), args[0], password)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when empty)")
	return cmd
}

func (c *console) renameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <username> <new-username>",
		Short: "Rename an account and move its sessions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(); err != nil {
				return err
			}
			res, err := c.api.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
}

func (c *console) deleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete an account and revoke its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !yes {
				ok, err := c.confirm(out, fmt.Sprintf("Delete user %s?", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Cancelled")
					return nil
				}
			}
			res, err := c.api.Delete(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(out, res.Message)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (c *console) createCommand() *cobra.Command {
	var req client.CreateRequest
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account, optionally pre-paid or pinned to a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.PaidDays < 0 {
				return fmt.Errorf("paid days must not be negative")
			}
			if err := c.authorize(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			req.Username = args[0]
			if req.Password == "" {
				var err error
				if req.Password, err = c.readSecret(out, "Password"); err != nil {
					return err
				}
			}
			res, err := c.api.Create(cmd.Context(), req)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(out, res.Message)
			if res.PaidUntil != nil {
				fmt.Fprintf(out, "Paid until %s\n", formatTime(res.PaidUntil))
			}
			if res.Warning != "" {
				fmt.Fprintf(out, "Warning: %s\n", res.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Password, "password", "", "initial password (prompted when empty)")
	cmd.Flags().StringVar(&req.PendingMachine, "machine", "", "fingerprint the account will bind on first login")
	cmd.Flags().IntVar(&req.PaidDays, "paid-days", 0, "create a paid account with this many days")
	return cmd
}

func (c *console) backupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload a snapshot of all accounts to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(); err != nil {
				return err
			}
			res, err := c.api.Backup(cmd.Context())
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup stored at %s\n", strings.TrimSpace(res.Key))
			return nil
		},
	}
}
