package health

import "time"

type Input struct{}

type Output struct {
	Body Response
}

// Response ответ проверки связи. ServerTime позволяет станции заметить
// расхождение часов, от которого зависит проверка срока действия QR.
type Response struct {
	Status     string    `json:"status" example:"OK" doc:"Состояние сервиса"`
	Storage    string    `json:"storage" example:"OK" doc:"Доступность хранилища посещаемости"`
	ServerTime time.Time `json:"server_time" doc:"Время сервера (UTC)"`
}
