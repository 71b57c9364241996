// Command zoneserver is the zone server's process entrypoint: it loads
// configuration, wires the core's components together, binds every
// listening bucket, and runs until a shutdown signal arrives. Grounded on
// the teacher's core/main.go startup sequence (banner, section-by-section
// bring-up, signal-driven shutdown), rebuilt on cobra instead of a flat
// main with flag.Parse.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gigamon-dev/zoneserver/internal/bandwidth"
	"github.com/gigamon-dev/zoneserver/internal/broker"
	"github.com/gigamon-dev/zoneserver/internal/capability"
	"github.com/gigamon-dev/zoneserver/internal/pingsvc"
	"github.com/gigamon-dev/zoneserver/internal/player"
	"github.com/gigamon-dev/zoneserver/internal/transport"
	"github.com/gigamon-dev/zoneserver/internal/zlog"
	"github.com/gigamon-dev/zoneserver/internal/zoneconfig"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		zlog.Fatalf("zoneserver: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "zoneserver",
		Short: "Runs a Subspace/Continuum-family zone server core",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zlog.SetLevel(logrus.DebugLevel)
			}
			return run(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the zone configuration file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the zone server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func run(configPath string) error {
	zlog.Banner("zone server", version)

	zlog.Section("loading configuration")
	cfg, err := zoneconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	zlog.Section("initializing core components")
	root := broker.New()
	machine := player.NewMachine(root)
	registry := capability.NewInMemoryRegistry(machine)

	newLimiter := func() bandwidth.Limiter {
		return bandwidth.NewTokenBucket(bandwidth.Config{
			LimitMin:    cfg.Bandwidth.LimitMinimum,
			LimitMax:    cfg.Bandwidth.LimitMaximum,
			Scale:       cfg.Bandwidth.LimitScale,
			Burst:       cfg.Bandwidth.Burst,
			UseHitLimit: cfg.Bandwidth.UseHitLimit,
			PriPercent:  cfg.Bandwidth.PriLimit,
		})
	}

	tr := transport.New(cfg, root, machine, registry, newLimiter)

	zlog.Section("binding listening buckets")
	var pingResponders []*pingsvc.Responder
	for _, lb := range cfg.Listen {
		if err := tr.Listen(lb); err != nil {
			return fmt.Errorf("binding listen bucket %s:%d: %w", lb.BindAddress, lb.Port, err)
		}
		population := func() uint32 { return uint32(registry.Count()) }
		resp, err := pingsvc.New(lb.BindAddress, lb.Port+1, cfg.Bandwidth.SendAtOnce*10, population)
		if err != nil {
			return fmt.Errorf("binding ping responder %s:%d: %w", lb.BindAddress, lb.Port+1, err)
		}
		pingResponders = append(pingResponders, resp)
		zlog.Infof("zoneserver: bound bucket game=%d ping=%d vie=%v cont=%v", lb.Port, lb.Port+1, lb.AllowVIE, lb.AllowCont)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(tr.Run)
	for _, resp := range pingResponders {
		r := resp
		g.Go(func() error { return r.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		zlog.Section("shutting down")
		tr.Stop()
		return nil
	})

	zlog.Section("zone server running")
	return g.Wait()
}
