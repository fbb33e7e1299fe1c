// cmd/scanner/cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"

	"mealcheck/cmd/scanner/cmd/types"
	"mealcheck/internal/app/client"
	"mealcheck/internal/app/client/config"
	"mealcheck/internal/utils/logger"
)

var (
	cfgFile    string
	cfg        *config.Config
	log        *slog.Logger
	app        *client.App
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Mealcheck - станция отметки участников",
	Long: `Mealcheck: станция регистрации и отметки питания участников мероприятия.

Сканы принимаются и без связи с сервером: они сохраняются в локальной очереди
и отправляются, как только сервер снова доступен.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = loadConfig()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	log = logger.WithLevel(cfg.Env, cfg.LogLevel)

	app, err = client.New(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации станции: %w", err)
	}

	cmd.SetContext(context.WithValue(cmd.Context(), types.ClientAppKey, app))
	return nil
}

func closeApp(_ *cobra.Command, _ []string) error {
	if app == nil {
		return nil
	}
	return app.Close()
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		viper.AddConfigPath(filepath.Join(home, ".mealcheck"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Конфиг не найден, используем окружение и значения по умолчанию
	}

	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().String("server", "", "адрес сервера (host:port)")
	rootCmd.PersistentFlags().String("station", "", "идентификатор станции")
	rootCmd.PersistentFlags().String("data", "", "путь к файлу локальной очереди")

	_ = viper.BindPFlag("SERVER_ADDRESS", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("STATION_ID", rootCmd.PersistentFlags().Lookup("station"))
	_ = viper.BindPFlag("DATA_PATH", rootCmd.PersistentFlags().Lookup("data"))
}
