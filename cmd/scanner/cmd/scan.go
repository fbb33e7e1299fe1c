package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mealcheck/internal/domain/checkin"
)

var (
	scanEvent string
	scanMeal  string
)

var scanCmd = &cobra.Command{
	Use:   "scan [payload]",
	Short: "Отметить участника по QR-коду",
	Long: `Отметка участника по содержимому QR-кода.

Без аргумента команда читает коды построчно со стандартного ввода
(сканер штрихкодов работает как клавиатура).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sc := checkin.ScanContext{EventID: scanEvent, MealSessionID: scanMeal}

		app.Probe(ctx)

		if len(args) == 1 {
			printScanResult(cmd.OutOrStdout(), app.RecordScan(ctx, args[0], sc))
			return nil
		}
		return scanLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), sc)
	},
}

// scanLoop обрабатывает коды построчно до конца ввода или отмены ctx
func scanLoop(ctx context.Context, in io.Reader, out io.Writer, sc checkin.ScanContext) error {
	interactive := isTerminal(in)
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		s := bufio.NewScanner(in)
		for s.Scan() {
			select {
			case lines <- s.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- s.Err()
	}()

	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			raw := strings.TrimSpace(line)
			if raw == "" {
				continue
			}
			printScanResult(out, app.RecordScan(ctx, raw, sc))
		}
	}
}

func init() {
	scanCmd.Flags().StringVarP(&scanEvent, "event", "e", "", "идентификатор мероприятия")
	scanCmd.Flags().StringVarP(&scanMeal, "meal", "m", "", "идентификатор сессии питания (пусто - вход на мероприятие)")
	_ = scanCmd.MarkFlagRequired("event")
}
