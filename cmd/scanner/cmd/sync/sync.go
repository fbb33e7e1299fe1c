package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mealcheck/cmd/scanner/cmd/types"
	"mealcheck/internal/app/client"
)

var (
	syncStatus  bool
	showFailed  bool
	retryFailed bool
	jsonFormat  bool
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Управление синхронизацией",
	Long: `Отправка локальной очереди на сервер.

Без флагов запускает синхронизацию немедленно. Действия, отклоненные сервером,
остаются в очереди со статусом FAILED_PERMANENT до разбора оператором.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := cmd.Context().Value(types.ClientAppKey).(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}
		jsonFormat, _ = cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()

		switch {
		case syncStatus:
			return showSyncStatus(cmd.Context(), out, app)
		case showFailed:
			return showFailedActions(cmd.Context(), out, app)
		case retryFailed:
			n, err := app.RetryFailed(cmd.Context())
			if err != nil {
				return fmt.Errorf("ошибка возврата действий в очередь: %w", err)
			}
			fmt.Fprintf(out, "Возвращено в очередь: %d\n", n)
		}

		return runSync(cmd.Context(), out, app)
	},
}

func runSync(ctx context.Context, out io.Writer, app *client.App) error {
	result := app.ForceSyncNow(ctx)
	if jsonFormat {
		return encode(out, result)
	}

	fmt.Fprintln(out, "=== Синхронизация ===")
	if result.Offline {
		fmt.Fprintln(out, "⚠️  Сервер недоступен, очередь сохранена локально")
		return nil
	}

	fmt.Fprintf(out, "Время выполнения: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Регистраций отправлено: %d\n", result.SyncedRegistrations)
	fmt.Fprintf(out, "Отметок отправлено: %d\n", result.SyncedScans)
	fmt.Fprintf(out, "Записей аудита отправлено: %d\n", result.SyncedAudits)
	if result.Deferred > 0 {
		fmt.Fprintf(out, "Отложено до следующей попытки: %d\n", result.Deferred)
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "Ошибок: %d\n", len(result.Errors))
		for i, e := range result.Errors {
			if i == 5 {
				fmt.Fprintf(out, "  ... и еще %d\n", len(result.Errors)-5)
				break
			}
			kind := "отказ"
			if e.Retryable {
				kind = "повтор"
			}
			fmt.Fprintf(out, "  • %s %s (%s): %s\n", e.Kind, e.ClientActionID, kind, e.Reason)
		}
	} else if result.Success {
		fmt.Fprintln(out, "✅ Синхронизация завершена")
	}
	return nil
}

func showSyncStatus(ctx context.Context, out io.Writer, app *client.App) error {
	app.Probe(ctx)
	stats, err := app.GetSyncStats(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения очереди: %w", err)
	}
	if jsonFormat {
		return encode(out, stats)
	}

	fmt.Fprintln(out, "=== Статус синхронизации ===")
	if stats.IsOnline {
		fmt.Fprintln(out, "🌐 Сервер: ✅ доступен")
	} else {
		fmt.Fprintln(out, "🌐 Сервер: ❌ недоступен")
	}
	fmt.Fprintf(out, "  Регистраций в очереди: %d\n", stats.PendingRegistrations)
	fmt.Fprintf(out, "  Отметок в очереди: %d\n", stats.PendingScans)
	fmt.Fprintf(out, "  Записей аудита в очереди: %d\n", stats.PendingAudits)
	fmt.Fprintf(out, "  Всего: %d\n", stats.TotalPending)
	fmt.Fprintf(out, "  Отклонено сервером: %d\n", stats.FailedPermanent)
	if !stats.LastSyncAt.IsZero() {
		fmt.Fprintf(out, "  Последняя синхронизация: %s\n", stats.LastSyncAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showFailedActions(ctx context.Context, out io.Writer, app *client.App) error {
	failed, err := app.FailedActions(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения очереди: %w", err)
	}
	if jsonFormat {
		return encode(out, failed)
	}
	if len(failed) == 0 {
		fmt.Fprintln(out, "Отклоненных действий нет")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tТИП\tРЕГИСТРАЦИЯ\tСОЗДАНО\tПОПЫТОК\tПРИЧИНА")
	for _, a := range failed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			a.ClientActionID, a.Kind, orDash(a.RegistrationID),
			a.CreatedAt.Local().Format("2006-01-02 15:04:05"), a.AttemptCount, a.LastError)
	}
	return w.Flush()
}

func encode(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	SyncCmd.Flags().BoolVar(&syncStatus, "status", false, "показать статус очереди")
	SyncCmd.Flags().BoolVar(&showFailed, "failed", false, "показать действия, отклоненные сервером")
	SyncCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "вернуть отклоненные действия в очередь и синхронизировать")
}
