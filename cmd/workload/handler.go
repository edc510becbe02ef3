package workload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/projecteru2/warden/cmd/core"
	"github.com/projecteru2/warden/command"
	"github.com/projecteru2/warden/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Start(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}
	if err := stack.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.WithFunc("cmd.start").Infof(ctx, "workload running, pid %d", stack.Workload.PID())
	return nil
}

func (h Handler) Stop(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}
	if err := stack.Coordinator.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	log.WithFunc("cmd.stop").Infof(ctx, "workload stopped")
	return nil
}

func (h Handler) Status(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}
	status := stack.Coordinator.GetStatus(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

// Command runs a single console command over a short-lived channel.
func (h Handler) Command(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	client := command.New(conf.Console)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect console: %w", err)
	}
	defer client.Close() //nolint:errcheck

	res, err := client.Execute(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if res.Output != "" {
		fmt.Println(res.Output)
	}
	if !res.Success {
		return fmt.Errorf("command rejected by console")
	}
	return nil
}

// Console runs an interactive REPL over the command channel. Commands are
// still serialized one at a time underneath.
func (h Handler) Console(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	client := command.New(conf.Console)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect console: %w", err)
	}
	defer client.Close() //nolint:errcheck

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Fprintf(os.Stderr, "\r\nDisconnected from %s.\r\n", conf.Console.Addr)
	}()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	fmt.Fprintf(os.Stderr, "Connected to %s (exit with \"exit\" or Ctrl-D.)\r\n", conf.Console.Addr)

	for {
		line, err := t.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		res, err := client.Execute(ctx, line)
		if err != nil {
			fmt.Fprintf(t, "error: %v\r\n", err)
			continue
		}
		fmt.Fprintf(t, "%s\r\n", res.Output)
	}
}

func (h Handler) Sessions(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}

	if cur, err := stack.Coordinator.CurrentSession(ctx); err == nil {
		fmt.Printf("current: %s started %s\n", cur.ID, cur.StartedAt.Local().Format(time.DateTime))
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	} else {
		fmt.Println("current: none")
	}

	last, err := stack.Coordinator.LastSession(ctx)
	if errors.Is(err, types.ErrNotFound) {
		fmt.Println("last: none")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("last: %s started %s ran %s\n",
		last.ID,
		last.StartedAt.Local().Format(time.DateTime),
		(time.Duration(last.DurationMs) * time.Millisecond).Truncate(time.Second))
	return nil
}

func (h Handler) Usage(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(conf)
	if err != nil {
		return err
	}
	stats, err := stack.Coordinator.UsageStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("sessions: %d\n", stats.Sessions)
	fmt.Printf("total:    %s\n", (time.Duration(stats.TotalMs) * time.Millisecond).Truncate(time.Second))
	fmt.Printf("average:  %s\n", (time.Duration(stats.AverageMs) * time.Millisecond).Truncate(time.Second))
	fmt.Printf("longest:  %s\n", (time.Duration(stats.LongestMs) * time.Millisecond).Truncate(time.Second))
	if stats.LastStartedUnix > 0 {
		fmt.Printf("last run: %s\n", time.Unix(stats.LastStartedUnix, 0).Local().Format(time.DateTime))
	}
	return nil
}
