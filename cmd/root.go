package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdbackup "github.com/projecteru2/warden/cmd/backup"
	cmdcore "github.com/projecteru2/warden/cmd/core"
	cmddaemon "github.com/projecteru2/warden/cmd/daemon"
	cmdplugin "github.com/projecteru2/warden/cmd/plugin"
	cmdworkload "github.com/projecteru2/warden/cmd/workload"
	"github.com/projecteru2/warden/config"
)

func baseHandler(p func() *config.Config) cmdcore.BaseHandler {
	return cmdcore.BaseHandler{ConfProvider: p}
}

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden - game-server sandbox lifecycle coordinator",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(commandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root-dir", "", "coordinator state directory")
	cmd.PersistentFlags().String("data-dir", "", "workload data directory")
	cmd.PersistentFlags().String("identity", "", "workload identity")
	cmd.PersistentFlags().String("api-addr", "", "control API listen address")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("data_dir", cmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("identity", cmd.PersistentFlags().Lookup("identity"))
	_ = viper.BindPFlag("api_addr", cmd.PersistentFlags().Lookup("api-addr"))

	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()

	confProvider := func() *config.Config { return conf }

	for _, c := range cmddaemon.Commands(cmddaemon.Handler{BaseHandler: baseHandler(confProvider)}) {
		cmd.AddCommand(c)
	}
	for _, c := range cmdworkload.Commands(cmdworkload.Handler{BaseHandler: baseHandler(confProvider)}) {
		cmd.AddCommand(c)
	}
	for _, c := range cmdbackup.Commands(cmdbackup.Handler{BaseHandler: baseHandler(confProvider)}) {
		cmd.AddCommand(c)
	}
	for _, c := range cmdplugin.Commands(cmdplugin.Handler{BaseHandler: baseHandler(confProvider)}) {
		cmd.AddCommand(c)
	}

	return cmd
}()

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	conf.Normalize()

	return log.SetupLog(ctx, &conf.Log, "")
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func newCommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
