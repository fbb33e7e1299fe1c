package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mealcheck/internal/domain/checkin"
)

var (
	runEvent    string
	runMeal     string
	runHeadless bool
	runMetrics  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Режим станции",
	Long: `Режим станции: фоновая проверка связи и синхронизация очереди,
сканы читаются со стандартного ввода. Остановка по Ctrl+C.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		sc := checkin.ScanContext{EventID: runEvent, MealSessionID: runMeal}
		if runMetrics != "" {
			cfg.MetricsAddress = runMetrics
		}

		g, ctx := errgroup.WithContext(cmd.Context())

		g.Go(func() error {
			return app.Run(ctx)
		})

		g.Go(func() error {
			updates, unsubscribe := app.Subscribe()
			defer unsubscribe()

			online := app.State().IsOnline
			for {
				select {
				case <-ctx.Done():
					return nil
				case st, ok := <-updates:
					if !ok {
						return nil
					}
					if st.IsOnline != online {
						online = st.IsOnline
						printConnectivity(out, online)
					}
				}
			}
		})

		if !runHeadless {
			g.Go(func() error {
				return scanLoop(ctx, cmd.InOrStdin(), out, sc)
			})
		}

		fmt.Fprintf(out, "Станция %s запущена (мероприятие %s)\n", cfg.StationID, runEvent)
		return g.Wait()
	},
}

func init() {
	runCmd.Flags().StringVarP(&runEvent, "event", "e", "", "идентификатор мероприятия")
	runCmd.Flags().StringVarP(&runMeal, "meal", "m", "", "идентификатор сессии питания")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "не читать сканы со стандартного ввода")
	runCmd.Flags().StringVar(&runMetrics, "metrics", "", "адрес для /metrics станции")
	_ = runCmd.MarkFlagRequired("event")
}
