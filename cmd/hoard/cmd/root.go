package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hoardfs/hoard"
)

var rootCmd = &cobra.Command{
	Use:   "hoard",
	Short: "Content-addressable object store CLI",
	Long:  "CLI for inspecting and maintaining a local hoard object store.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/hoard/config.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "store directory (default: ~/.local/share/hoard)")
	rootCmd.PersistentFlags().String("engine", "", "storage engine: pebble, bolt, sqlite, memory (default: pebble)")
	rootCmd.PersistentFlags().Bool("verbose", false, "log store events to stderr")

	viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("HOARD")
	viper.AutomaticEnv()
	viper.SetDefault("dir", defaultStoreDir())
	viper.SetDefault("engine", hoard.EnginePebble)

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hoard")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "hoard")
	}
	return ".hoard"
}

func defaultStoreDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "hoard")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "hoard")
	}
	return ".hoard"
}

// openStore opens the configured store. Every command funnels through
// here so flags, env and config file behave identically everywhere.
func openStore() (*hoard.Store, error) {
	opts := []hoard.OpenOption{
		hoard.WithEngine(viper.GetString("engine")),
	}
	if viper.GetBool("verbose") {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
		opts = append(opts, hoard.WithLogger(hoard.NewEventLogger(handler)))
	}
	return hoard.Open(viper.GetString("dir"), opts...)
}

// parseKind maps the --kind flag value onto an object kind.
func parseKind(s string) (hoard.ObjectKind, error) {
	switch s {
	case "blob":
		return hoard.KindBlob, nil
	case "tree":
		return hoard.KindTree, nil
	case "commit":
		return hoard.KindCommit, nil
	default:
		return 0, fmt.Errorf("unknown object kind %q (want blob, tree or commit)", s)
	}
}
