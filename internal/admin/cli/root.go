package cli

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/admin/client"
	"github.com/dmitrijs2005/licensekeeper/internal/admin/config"
	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/spf13/cobra"
)

// rootFlags override the loaded configuration when set to a non-zero value.
type rootFlags struct {
	configPath string
	server     string
	retries    int
	timeout    time.Duration
	tokenFile  string
}

type console struct {
	flags  rootFlags
	cfg    *config.Config
	api    *client.Client
	tokens *tokenStore
	in     *bufio.Reader
}

// NewRootCommand builds the licensekeeper-admin command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(rootFlags{retries: -1})
}

func newRootCommand(defaults rootFlags) *cobra.Command {
	c := &console{}

	root := &cobra.Command{
		Use:           "licensekeeper-admin",
		Short:         "Operator console for the licensekeeper server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configPath, "config", defaults.configPath, "path to a JSON config file")
	pf.StringVar(&c.flags.server, "server", defaults.server, "base URL of the licensekeeper HTTP API")
	pf.IntVar(&c.flags.retries, "retries", defaults.retries, "retry attempts for failed requests")
	pf.DurationVar(&c.flags.timeout, "timeout", defaults.timeout, "per-request timeout")
	pf.StringVar(&c.flags.tokenFile, "token-file", defaults.tokenFile, "where the admin token is stored")

	root.AddCommand(
		c.loginCommand(),
		c.logoutCommand(),
		c.usersCommand(),
		c.showCommand(),
		c.setPaidCommand("set-paid", "Add days to a user's paid period", false),
		c.setPaidCommand("set-paid-exact", "Set a user's paid period to exactly N days from now", true),
		c.resetPasswordCommand(),
		c.renameCommand(),
		c.deleteCommand(),
		c.createCommand(),
		c.backupCommand(),
		c.shellCommand(),
	)
	return root
}

func (c *console) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(c.flags.configPath)
	if err != nil {
		return err
	}
	if c.flags.server != "" {
		cfg.ServerURL = c.flags.server
	}
	if c.flags.retries >= 0 {
		cfg.Retries = c.flags.retries
	}
	if c.flags.timeout > 0 {
		cfg.Timeout = c.flags.timeout
	}
	if c.flags.tokenFile != "" {
		cfg.TokenFile = c.flags.tokenFile
	}

	c.cfg = cfg
	c.tokens = &tokenStore{path: cfg.TokenFile}
	c.api = client.New(cfg.ServerURL, client.Options{Retries: cfg.Retries, Timeout: cfg.Timeout})
	c.in = bufio.NewReader(cmd.InOrStdin())
	return nil
}

// authorize loads the stored admin token into the API client.
func (c *console) authorize() error {
	token, err := c.tokens.Load()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("not logged in, run 'login' first")
	}
	c.api.SetToken(token)
	return nil
}

// explain adds a hint to errors the operator can act on.
func explain(err error) error {
	if errors.Is(err, common.ErrUnauthenticated) {
		return fmt.Errorf("%w; run 'login' again", err)
	}
	return err
}
