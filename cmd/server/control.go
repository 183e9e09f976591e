package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/transport/tcp"
)

const controlTimeout = 10 * time.Second

// requestFunc builds a control request from command arguments.
type requestFunc func(args []string) (*proto.Message, error)

func stopRequest([]string) (*proto.Message, error) {
	return proto.New(proto.KindStopServer), nil
}

func restartRequest([]string) (*proto.Message, error) {
	return proto.New(proto.KindRestartServer), nil
}

func newControlCmd(flags *rootFlags, use, short string, build requestFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(cmd.Context(), flags, build, args)
		},
	}
}

func newBanCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ban <login> <hours>",
		Short: "Ban a client for the given number of hours",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(cmd.Context(), flags, func(args []string) (*proto.Message, error) {
				hours, err := strconv.ParseFloat(args[1], 64)
				if err != nil || hours <= 0 {
					return nil, fmt.Errorf("invalid hours %q", args[1])
				}
				until := time.Now().Add(time.Duration(hours * float64(time.Hour)))
				return proto.New(proto.KindClientBan).
					WithToID(core.ClientIDFor(args[0])).
					WithText(until.Format(time.RFC3339)), nil
			}, args)
		},
	}
}

func newUnbanCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unban <login>",
		Short: "Lift a client's ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(cmd.Context(), flags, func(args []string) (*proto.Message, error) {
				return proto.New(proto.KindClientUnban).WithToID(core.ClientIDFor(args[0])), nil
			}, args)
		},
	}
}

// sendControl sends one request with the server credentials and prints the answer.
func sendControl(ctx context.Context, flags *rootFlags, build requestFunc, args []string) error {
	cfg, _, _, err := loadConfig(flags)
	if err != nil {
		return err
	}
	msg, err := build(args)
	if err != nil {
		return err
	}
	msg.WithLogin(cfg.ServerLogin).WithPassword(cfg.ServerPassword)

	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	c, err := tcp.Dial(ctx, dialAddr(cfg))
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Request(ctx, msg)
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Kind, err)
	}
	if resp.Kind != proto.KindAccepted {
		return fmt.Errorf("%s: %s %s", msg.Kind, resp.Kind, resp.Text)
	}
	fmt.Printf("%s: %s\n", msg.Kind, resp.Kind)
	return nil
}

// dialAddr turns a listen address such as ":5940" into one a client can dial.
func dialAddr(cfg config.Config) string {
	if len(cfg.Addr) > 0 && cfg.Addr[0] == ':' {
		return "127.0.0.1" + cfg.Addr
	}
	return cfg.Addr
}
