// SPDX-License-Identifier: GPL-3.0-or-later

// Command rosnode is an example node binary: it advertises one topic
// and subscribes to that same topic, demonstrating the
// init -> start -> shutdown lifecycle a real node follows.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	roscore "github.com/rosgo/roscore"
	"github.com/rosgo/roscore/pkg/wire"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rosnode:", err)
		os.Exit(1)
	}
}

var (
	flagMasterURI string
	flagName      string
	flagTopic     string
)

var rootCmd = &cobra.Command{
	Use:   "rosnode",
	Short: "Run an example publish/subscribe node",
	RunE:  runNode,
}

func init() {
	rootCmd.Flags().StringVar(&flagMasterURI, "master-uri", "", "directory URI (defaults to $MASTER_URI)")
	rootCmd.Flags().StringVar(&flagName, "name", "rosnode", "node name before namespace resolution")
	rootCmd.Flags().StringVar(&flagTopic, "topic", "chatter", "topic to advertise and echo")
}

// runNode pre-processes os.Args' remappings through roscore.Init, the
// way every node does, before handing the leftover arguments to Cobra
// (spec §4.A "Init contract": remapping tokens are consumed and never
// reach the application's own argument parser).
func runNode(cmd *cobra.Command, _ []string) error {
	cfg := roscore.NewConfig()
	if flagMasterURI != "" {
		cfg.MasterURI = flagMasterURI
	}
	cfg.NodeName = flagName

	n, rest, err := roscore.Init(cfg, os.Args[1:])
	if err != nil {
		return fmt.Errorf("initializing node: %w", err)
	}
	if err := cmd.Flags().Parse(rest); err != nil {
		return err
	}

	n.SetLogger(slog.Default())
	n.EnableMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer n.Shutdown(context.Background())

	descriptor := wire.Descriptor{DataType: "std_msgs/String", MD5: wire.WildcardMD5}

	pub, err := n.Advertise(ctx, flagTopic, descriptor, false)
	if err != nil {
		return fmt.Errorf("advertising %s: %w", flagTopic, err)
	}
	defer pub.Close(context.Background())

	sub, err := n.Subscribe(ctx, flagTopic, descriptor, nil, 0, func(msg any) {
		slog.Default().Info("rosnode: received", "topic", flagTopic, "msg", msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", flagTopic, err)
	}
	defer sub.Close(context.Background())

	slog.Default().Info("rosnode: running", "name", n.Name(), "topic", n.Resolve(flagTopic))
	<-ctx.Done()
	slog.Default().Info("rosnode: shutting down")
	return nil
}
