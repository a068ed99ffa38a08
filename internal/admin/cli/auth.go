package cli

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/spf13/cobra"
)

func (c *console) loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Log in as the server operator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var username string
			if len(args) == 1 {
				username = args[0]
			} else {
				var err error
				if username, err = c.readLine(out, "Admin username"); err != nil {
					return err
				}
			}
			password, err := c.readSecret(out, "Password")
			if err != nil {
				return err
			}

			token, err := c.api.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := c.tokens.Save(token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(out, "Logged in as %s\n", username)
			return nil
		},
	}
}

func (c *console) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored admin token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authorize(); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			err := c.api.Logout(cmd.Context())
			if err != nil && !errors.Is(err, common.ErrUnauthenticated) {
				return err
			}
			if err := c.tokens.Clear(); err != nil {
				return fmt.Errorf("remove token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
