// Package cli provides the nsredis-cli command tree.
//
// It uses urfave/cli/v2. Every command runs through a namespaced client, so
// keys typed on the command line and keys printed back are namespace-relative.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/flashdb/nsredis/internal/client"
	"github.com/flashdb/nsredis/internal/logger"
	"github.com/flashdb/nsredis/internal/version"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "nsredis-cli",
		Usage:                "Run Redis commands inside a key namespace",
		Version:              version.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			ExecCommand(),
			RewriteCommand(),
			RulesCommand(),
			ScanCommand(),
			SubscribeCommand(),
			PSubscribeCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "Redis server address",
			EnvVars: []string{"NSREDIS_ADDR"},
			Value:   "127.0.0.1:6379",
		},
		&cli.StringFlag{
			Name:    "namespace",
			Aliases: []string{"n"},
			Usage:   "Key namespace, e.g. tenant:",
			EnvVars: []string{"NSREDIS_NAMESPACE"},
		},
		&cli.StringFlag{
			Name:    "username",
			Usage:   "ACL username",
			EnvVars: []string{"NSREDIS_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Password for AUTH",
			EnvVars: []string{"NSREDIS_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "db",
			Usage:   "Database number",
			EnvVars: []string{"NSREDIS_DB"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: text, json",
			Value:   "text",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Log client activity to stderr",
		},
	}
}

// GlobalFlags holds the flags shared by all commands.
type GlobalFlags struct {
	Addr      string
	Namespace string
	Username  string
	Password  string
	DB        int
	Output    string
	Verbose   bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Addr:      c.String("addr"),
		Namespace: c.String("namespace"),
		Username:  c.String("username"),
		Password:  c.String("password"),
		DB:        c.Int("db"),
		Output:    c.String("output"),
		Verbose:   c.Bool("verbose"),
	}
}

// newClient builds a namespaced client from the global flags.
func newClient(c *cli.Context) (*client.Client, error) {
	flags := ParseGlobalFlags(c)
	log := logger.Discard()
	if flags.Verbose {
		var err error
		log, err = logger.New(logger.Config{Level: "debug", Format: "text", Output: c.App.ErrWriter})
		if err != nil {
			return nil, err
		}
	}
	return client.New(client.Options{
		Addr:      flags.Addr,
		Namespace: flags.Namespace,
		Username:  flags.Username,
		Password:  flags.Password,
		DB:        flags.DB,
		Logger:    log,
	}), nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
