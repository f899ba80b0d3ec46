package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lisuiheng/wsgate/core"
	"github.com/lisuiheng/wsgate/logger"
	"github.com/lisuiheng/wsgate/protocols/electron"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:           "wsgate",
		Short:         "Token-gated websocket channel client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/wsgate/config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging to stdout")

	root.AddCommand(newConnectCommand(), newTokenCommand())

	if err := root.Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect [channel paths...]",
		Short: "Connect and listen on channels until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Channels = args
			}
			if err := initLogger(cfg); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a fresh security token",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), electron.NewSecurityToken().Value)
		},
	}
}

func run(parent context.Context, cfg core.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Logger()
	log.Info("Starting wsgate", "name", cfg.System.Name)
	defer log.Info("Service shutdown completed")

	tokenRequest := electron.RequestToken(ctx, cfg.Security.Token, log)
	provider, err := core.NewConnectionProvider(cfg, tokenRequest, log)
	if err != nil {
		return err
	}
	listener, err := core.NewChannelListener(provider, cfg.Channels, log.With("component", "listener"))
	if err != nil {
		return err
	}

	app, err := core.NewApplication(log)
	if err != nil {
		return err
	}
	if err := app.Register(provider); err != nil {
		return err
	}
	if err := app.Register(listener); err != nil {
		return err
	}

	return app.Run(ctx)
}

// loadConfig 加载配置文件
func loadConfig(configPath string) (core.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/wsgate")
	}

	v.SetDefault("system.name", "wsgate")
	v.SetDefault("system.network.transport", "websocket")
	v.SetDefault("system.network.websocket.services_path", "/services")
	v.SetDefault("security.token.env", "WSGATE_SECURITY_TOKEN")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.outputs", []string{"stdout"})

	v.SetEnvPrefix("WSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return core.Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg core.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
	}
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}
	return logger.Init(logCfg)
}
