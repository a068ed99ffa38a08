package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// runShell reads commands from c.in until EOF, "exit" or "quit", and hands
// each line to exec. Command errors are printed and the loop continues.
func (c *console) runShell(ctx context.Context, out io.Writer, exec func(ctx context.Context, args []string) error) {
	for {
		fmt.Fprint(out, "lk-admin> ")
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		case "shell":
			fmt.Fprintln(out, "Already in the shell")
			continue
		case "help":
			parts = []string{"--help"}
		}

		if err := exec(ctx, parts); err != nil {
			fmt.Fprintln(out, "Error:", err)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (c *console) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "licensekeeper admin shell (type 'help' for commands, 'exit' to leave)")

			c.runShell(cmd.Context(), out, func(ctx context.Context, args []string) error {
				sub := newRootCommand(c.flags)
				sub.SetArgs(args)
				sub.SetIn(c.in)
				sub.SetOut(out)
				sub.SetErr(io.Discard)
				return sub.ExecuteContext(ctx)
			})
			return nil
		},
	}
}
