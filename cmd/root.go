package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/dualarb/cmd/bot"
	"github.com/michaelpento.lv/dualarb/config"
	"github.com/michaelpento.lv/dualarb/utils"
	"github.com/michaelpento.lv/dualarb/utils/metrics"
)

var (
	cfgFile string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "dualarb",
	Short: "Cross-chain DEX arbitrage between two EVM venues",
	Long: `dualarb quotes the same token pair on two EVM chains, detects price spreads
that clear a configurable profit threshold, and executes both swap legs
concurrently, either live through each chain's router or in simulation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFiles()...); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		utils.InitLogger(debug)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, cancelled on SIGINT/SIGTERM by main
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, built-in defaults if absent)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file with secrets (default is ./.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func envFiles() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}

// loadConfig reads --config. Without the flag a missing ./config.yaml falls back to defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err == nil {
		return cfg, nil
	}
	if cfgFile != "" || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	utils.GetLogger().Info("No config file found, using built-in defaults")
	cfg = config.DefaultConfig()
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newBot loads config and wires a bot on the service metrics registry
func newBot(ctx context.Context) (*bot.Bot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := utils.GetLogger()
	metrics.Initialize(log)
	return bot.New(ctx, cfg, metrics.Registry(), log)
}

// newOneShotBot is newBot with a private registry, for commands that exit after one call
func newOneShotBot(ctx context.Context) (*bot.Bot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.API.Enabled = false
	return bot.New(ctx, cfg, prometheus.NewRegistry(), utils.GetLogger())
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
