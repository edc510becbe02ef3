package plugin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/warden/cmd/core"
	"github.com/projecteru2/warden/plugin"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) initTracker(cmd *cobra.Command) (context.Context, *plugin.Tracker, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := conf.EnsureDirs(); err != nil {
		return nil, nil, err
	}
	return ctx, cmdcore.InitTracker(conf), nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, tracker, err := h.initTracker(cmd)
	if err != nil {
		return err
	}
	views, err := tracker.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PLUGIN\tSTATUS\tENV")
	for _, v := range views {
		keys := make([]string, 0, len(v.Env))
		for k := range v.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", v.Filename, v.Status, strings.Join(keys, ","))
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

func (h Handler) Enable(cmd *cobra.Command, args []string) error {
	return h.setDesired(cmd, args[0], true)
}

func (h Handler) Disable(cmd *cobra.Command, args []string) error {
	return h.setDesired(cmd, args[0], false)
}

func (h Handler) setDesired(cmd *cobra.Command, filename string, enabled bool) error {
	ctx, tracker, err := h.initTracker(cmd)
	if err != nil {
		return err
	}
	view, err := tracker.SetDesired(ctx, filename, enabled)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", view.Filename, view.Status)
	return nil
}

func (h Handler) SetEnv(cmd *cobra.Command, args []string) error {
	ctx, tracker, err := h.initTracker(cmd)
	if err != nil {
		return err
	}
	return tracker.SetEnv(ctx, args[0], args[1], args[2])
}

func (h Handler) UnsetEnv(cmd *cobra.Command, args []string) error {
	ctx, tracker, err := h.initTracker(cmd)
	if err != nil {
		return err
	}
	return tracker.UnsetEnv(ctx, args[0], args[1])
}
