package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/dualarb/config"
	"github.com/michaelpento.lv/dualarb/store"
	redisstore "github.com/michaelpento.lv/dualarb/store/redis"
	"github.com/michaelpento.lv/dualarb/utils"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or publish trading settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective trading settings (redis hash over config file)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		static, err := cfg.TradingSettings()
		if err != nil {
			return err
		}

		var source store.SettingsSource = store.NewStaticSettings(static)
		if cfg.Redis.Enabled {
			rs, closeFn, err := redisSettings(cmd, cfg, source)
			if err != nil {
				return err
			}
			defer closeFn()
			source = rs
		}

		settings, err := source.Settings(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), settings)
	},
}

var settingsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Write the config file's trading settings to the redis settings hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Redis.Enabled {
			return errors.New("redis is not enabled in config")
		}
		static, err := cfg.TradingSettings()
		if err != nil {
			return err
		}

		rs, closeFn, err := redisSettings(cmd, cfg, store.NewStaticSettings(static))
		if err != nil {
			return err
		}
		defer closeFn()

		if err := rs.Save(cmd.Context(), static); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote settings to redis key %q\n", cfg.Redis.SettingsKey)
		return nil
	},
}

func redisSettings(cmd *cobra.Command, cfg *config.Config, fallback store.SettingsSource) (*redisstore.Settings, func(), error) {
	rdb, err := redisstore.Dial(cmd.Context(), cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	rs := redisstore.NewSettings(rdb, cfg.Redis.SettingsKey, fallback, utils.GetLogger())
	return rs, func() { _ = rdb.Close() }, nil
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsPushCmd)
	rootCmd.AddCommand(settingsCmd)
}
