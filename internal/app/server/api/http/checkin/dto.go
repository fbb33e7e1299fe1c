package checkin

import (
	"mealcheck/internal/domain/checkin"
)

type registrationInput struct {
	Body checkin.RegistrationRequest
}

type mealScanInput struct {
	Body checkin.MealScanRequest
}

type auditInput struct {
	Body checkin.AuditRequest
}

type output struct {
	Body checkin.SubmitResponse
}
