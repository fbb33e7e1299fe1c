package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"mealcheck/internal/domain/checkin"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

var reasonText = map[checkin.DecodeResult]string{
	checkin.ResultMalformed:           "код не распознан",
	checkin.ResultExpired:             "срок действия кода истек",
	checkin.ResultUnknownRegistration: "участник не найден",
	checkin.ResultAlreadyCheckedIn:    "уже отмечен",
	checkin.ResultNetworkError:        "ошибка сети",
	checkin.ResultStorageFailure:      "локальное хранилище недоступно, повторите скан",
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printScanResult(w io.Writer, res checkin.ScanResult) {
	if jsonOutput {
		_ = printJSON(w, res)
		return
	}

	who := res.Event.RegistrationID
	if who == "" {
		who = "-"
	}

	switch {
	case res.Recorded && res.Mode == checkin.ModeRemote:
		okColor.Fprintf(w, "✓ %s отмечен\n", who)
	case res.Recorded:
		warnColor.Fprintf(w, "✓ %s отмечен офлайн, ожидает синхронизации\n", who)
	default:
		failColor.Fprintf(w, "✗ %s: %s", who, reasonText[res.Reason])
		if res.Detail != "" {
			fmt.Fprintf(w, " (%s)", res.Detail)
		}
		fmt.Fprintln(w)
	}
}

func printConnectivity(w io.Writer, online bool) {
	if online {
		okColor.Fprintln(w, "● сервер доступен")
		return
	}
	warnColor.Fprintln(w, "● нет связи с сервером, сканы сохраняются локально")
}

// isTerminal сообщает, подключен ли ввод к терминалу
func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
