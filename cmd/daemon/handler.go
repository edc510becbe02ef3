package daemon

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cmdcore "github.com/projecteru2/warden/cmd/core"
	"github.com/projecteru2/warden/proxy"
	"github.com/projecteru2/warden/server"
)

type Handler struct {
	cmdcore.BaseHandler
}

// Run wires the full stack and blocks until the context is cancelled:
// control API, storage proxy multiplexer, and the coordinator behind them.
func (h Handler) Run(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.daemon")

	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}

	mux := proxy.New(conf.Proxy, conf.Store, stack.Store)
	if err := mux.Start(ctx); err != nil {
		return fmt.Errorf("start storage proxy: %w", err)
	}
	defer mux.Close() //nolint:errcheck
	logger.Infof(ctx, "storage proxy on control=%s data=%s", mux.ControlAddr(), mux.DataAddr())

	if start, _ := cmd.Flags().GetBool("start-workload"); start {
		if err := stack.Coordinator.Start(ctx); err != nil {
			return fmt.Errorf("start workload: %w", err)
		}
	}

	api := server.New(conf, stack.Coordinator, stack.Tracker, stack.Engine)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Serve(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		// Daemon shutdown takes the workload down cleanly, backup included.
		stopCtx := context.WithoutCancel(gctx)
		if err := stack.Coordinator.Stop(stopCtx); err != nil {
			logger.Warnf(stopCtx, "stop workload on shutdown: %v", err)
		}
		return nil
	})
	return g.Wait()
}
