// Command xpcctl is a minimal demonstration client for a service
// bound by xpcd (or any other listener on the same machine): it
// exists to exercise the client half of Connection end to end.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/op/go-logging"
	"github.com/urfave/cli"

	xpc "github.com/jceel/libxpc"
)

func main() {
	app := cli.NewApp()
	app.Name = "xpcctl"
	app.Usage = "talk to a local xpc service"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "service", Value: "com.github.jceel.libxpc.echo", Usage: "service name to connect to"},
		cli.StringFlag{Name: "socket-dir", Value: "", Usage: "override the socket directory"},
		cli.BoolFlag{Name: "verbose, v", Usage: "enable debug logging"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "ping",
			Usage: "send an empty request and print the reply",
			Action: func(c *cli.Context) error {
				return runRequest(c, xpc.NewDictionary())
			},
		},
		{
			Name:      "send",
			Usage:     "send a single string field and print the reply",
			ArgsUsage: "<key> <value>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return cli.NewExitError("send requires exactly <key> <value>", 1)
				}
				req := xpc.NewDictionary()
				_ = req.DictSetString(c.Args().Get(0), c.Args().Get(1))
				return runRequest(c, req)
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func runRequest(c *cli.Context, req *xpc.Value) error {
	defer req.Release()

	level := logging.WARNING
	if c.GlobalBool("verbose") {
		level = logging.DEBUG
	}
	xpc.SetupLogging("xpcctl", level, false)

	cfg := xpc.DefaultConfig()
	if dir := c.GlobalString("socket-dir"); dir != "" {
		cfg.SocketDir = dir
	}

	transport, err := xpc.NewUnixTransport(cfg)
	if err != nil {
		return err
	}

	conn, err := xpc.NewClient(transport, c.GlobalString("service"), cfg)
	if err != nil {
		return err
	}
	if err := conn.Resume(); err != nil {
		return err
	}
	defer conn.Cancel()

	reply, err := conn.SendMessageWithReply(context.Background(), req)
	if err != nil {
		return err
	}
	defer reply.Release()

	if reply.IsError() {
		code, msg, _ := reply.ErrorValue()
		color.Red("connection error %d: %s", code, msg)
		return cli.NewExitError("request failed", 1)
	}

	color.Green("%s", reply.Describe())
	fmt.Println()
	return nil
}
