package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mealcheck/internal/domain/checkin"
)

var regForm checkin.RegistrationForm

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Зарегистрировать участника на месте",
	Long: `Регистрация участника, пришедшего без предварительной записи.

Без связи с сервером регистрация сохраняется в очереди и отправляется
раньше всех отметок этого участника.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		app.Probe(ctx)
		res := app.RegisterParticipant(ctx, regForm)
		if jsonOutput {
			return printJSON(out, res)
		}

		if !res.Recorded {
			return fmt.Errorf("регистрация не выполнена: %s %s", res.Reason, res.Detail)
		}

		if res.Mode == checkin.ModeQueued {
			warnColor.Fprintln(out, "✓ Регистрация сохранена офлайн, ожидает синхронизации")
		} else {
			okColor.Fprintln(out, "✓ Участник зарегистрирован")
		}
		fmt.Fprintf(out, "ID регистрации: %s\n", res.Event.RegistrationID)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVarP(&regForm.EventID, "event", "e", "", "идентификатор мероприятия")
	registerCmd.Flags().StringVar(&regForm.FullName, "name", "", "имя и фамилия")
	registerCmd.Flags().StringVar(&regForm.Email, "email", "", "email участника")
	registerCmd.Flags().StringVar(&regForm.Phone, "phone", "", "телефон")
	_ = registerCmd.MarkFlagRequired("event")
	_ = registerCmd.MarkFlagRequired("name")
	_ = registerCmd.MarkFlagRequired("email")
}
