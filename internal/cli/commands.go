package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/flashdb/nsredis/internal/client"
	"github.com/flashdb/nsredis/internal/namespace"
	"github.com/flashdb/nsredis/internal/protocol"
)

// ExecCommand runs one Redis command inside the namespace.
func ExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Aliases:   []string{"x"},
		Usage:     "Run a command inside the namespace",
		ArgsUsage: "COMMAND [ARG...]",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("exec: missing command", 2)
			}
			format, err := ParseFormat(c.String("output"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			args := make([]any, c.NArg())
			for i, a := range c.Args().Slice() {
				args[i] = a
			}
			v, err := cl.Call(c.Context, args)
			if err != nil {
				var replyErr protocol.Error
				if errors.As(err, &replyErr) {
					fmt.Fprintf(c.App.Writer, "(error) %s\n", replyErr)
					return cli.Exit("", 1)
				}
				return err
			}
			return Print(c.App.Writer, format, v)
		},
	}
}

// RewriteCommand prints the upstream form of a command without connecting.
func RewriteCommand() *cli.Command {
	return &cli.Command{
		Name:      "rewrite",
		Usage:     "Show how a command is rewritten for the namespace",
		ArgsUsage: "COMMAND [ARG...]",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("rewrite: missing command", 2)
			}
			format, err := ParseFormat(c.String("output"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			parts := c.Args().Slice()
			args := make([]namespace.Value, len(parts))
			for i, p := range parts {
				args[i] = namespace.Str(p)
			}
			ns := c.String("namespace")
			wire := protocol.Args(namespace.RewriteGeoRadius(ns, namespace.RewriteArgs(ns, parts[0], args)))

			out := make([]string, len(wire))
			for i, a := range wire {
				out[i] = string(a)
			}
			if format == FormatJSON {
				return Print(c.App.Writer, format, out)
			}
			quoted := make([]string, len(out))
			for i, s := range out {
				quoted[i] = fmt.Sprintf("%q", s)
			}
			_, err = fmt.Fprintln(c.App.Writer, strings.Join(quoted, " "))
			return err
		},
	}
}

type ruleRow struct {
	Command string `json:"command"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

// RulesCommand lists the namespacing rules of registered commands.
func RulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "rules",
		Usage:     "List how commands are namespaced",
		ArgsUsage: "[COMMAND...]",
		Action: func(c *cli.Context) error {
			format, err := ParseFormat(c.String("output"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			names := c.Args().Slice()
			if len(names) == 0 {
				names = namespace.Commands()
			}

			rows := make([]ruleRow, 0, len(names))
			for _, name := range names {
				name = strings.ToLower(name)
				if !namespace.Known(name) {
					return cli.Exit(fmt.Sprintf("rules: unknown command %q", name), 1)
				}
				r := namespace.Lookup(name)
				rows = append(rows, ruleRow{Command: name, Before: r.Before.String(), After: r.After.String()})
			}

			if format == FormatJSON {
				return Print(c.App.Writer, format, rows)
			}
			for _, row := range rows {
				fmt.Fprintf(c.App.Writer, "%-24s %-16s %s\n", row.Command, row.Before, row.After)
			}
			return nil
		},
	}
}

// ScanCommand iterates the keys of the namespace.
func ScanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "List keys in the namespace with SCAN",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "match",
				Aliases: []string{"m"},
				Usage:   "Glob pattern, relative to the namespace",
			},
			&cli.Int64Flag{
				Name:  "count",
				Usage: "SCAN COUNT hint",
				Value: 100,
			},
		},
		Action: func(c *cli.Context) error {
			format, err := ParseFormat(c.String("output"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			keys := []string{}
			err = cl.ScanEach(c.Context, c.String("match"), c.Int64("count"), func(key string) error {
				if format == FormatText {
					_, err := fmt.Fprintln(c.App.Writer, key)
					return err
				}
				keys = append(keys, key)
				return nil
			})
			if err != nil {
				return err
			}
			if format == FormatJSON {
				return Print(c.App.Writer, format, keys)
			}
			return nil
		},
	}
}

// SubscribeCommand prints messages published to channels in the namespace.
func SubscribeCommand() *cli.Command {
	return subscribeCommand("subscribe", "Print messages published to channels", false)
}

// PSubscribeCommand prints messages published to channels matching patterns.
func PSubscribeCommand() *cli.Command {
	return subscribeCommand("psubscribe", "Print messages published to channels matching patterns", true)
}

func subscribeCommand(name, usage string, pattern bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "NAME...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Exit after this many messages (0 = run until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit(name+": missing channel", 2)
			}
			format, err := ParseFormat(c.String("output"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			var ps *client.PubSub
			if pattern {
				ps, err = cl.PSubscribe(c.Context, c.Args().Slice()...)
			} else {
				ps, err = cl.Subscribe(c.Context, c.Args().Slice()...)
			}
			if err != nil {
				return err
			}
			defer ps.Close()
			return printMessages(c, ps, format, c.Int("limit"))
		},
	}
}

func printMessages(c *cli.Context, ps *client.PubSub, format Format, limit int) error {
	stop := context.AfterFunc(c.Context, func() { ps.Close() })
	defer stop()

	for n := 0; limit <= 0 || n < limit; {
		msg, err := ps.Receive(c.Context)
		if err != nil {
			if c.Context.Err() != nil {
				return nil
			}
			return err
		}
		switch msg.Kind {
		case "message", "pmessage":
			n++
		default:
			if format == FormatText {
				fmt.Fprintf(c.App.ErrWriter, "%s %s (%d)\n", msg.Kind, msg.Channel, msg.Count)
			}
			continue
		}

		if format == FormatJSON {
			if err := Print(c.App.Writer, format, msg); err != nil {
				return err
			}
			continue
		}
		if msg.Pattern != "" {
			fmt.Fprintf(c.App.Writer, "%s %s %s\n", msg.Pattern, msg.Channel, msg.Payload)
		} else {
			fmt.Fprintf(c.App.Writer, "%s %s\n", msg.Channel, msg.Payload)
		}
	}
	return nil
}
