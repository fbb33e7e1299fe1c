package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mealcheck/internal/domain/qr"
)

var (
	issueRegistration string
	issueEvent        string
	issueTTL          time.Duration
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Выпустить QR-код участника",
	Long: `Формирует полезную нагрузку QR-кода участника, подписанную
общим секретом станций (QR_SECRET).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := qr.DeriveKey(cfg.QRSecret)
		if err != nil {
			return err
		}

		now := time.Now()
		code, err := qr.NewSigner(key).Sign(qr.Claim{
			RegistrationID: issueRegistration,
			EventID:        issueEvent,
			NotBefore:      now.Unix(),
			ExpiresAt:      now.Add(issueTTL).Unix(),
		})
		if err != nil {
			return fmt.Errorf("ошибка формирования кода: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), code)
		return nil
	},
}

func init() {
	issueCmd.Flags().StringVarP(&issueRegistration, "registration", "r", "", "идентификатор регистрации")
	issueCmd.Flags().StringVarP(&issueEvent, "event", "e", "", "идентификатор мероприятия")
	issueCmd.Flags().DurationVar(&issueTTL, "ttl", 72*time.Hour, "срок действия кода")
	_ = issueCmd.MarkFlagRequired("registration")
	_ = issueCmd.MarkFlagRequired("event")
}
