package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/exp/slog"

	"mealcheck/internal/app/client/config"
	"mealcheck/internal/domain/checkin"
)

var submitPaths = map[checkin.ActionKind]string{
	checkin.KindRegistrationCreate: "/api/v1/registrations",
	checkin.KindMealScan:           "/api/v1/meal-scans",
	checkin.KindAuditWrite:         "/api/v1/audit-entries",
}

type submitRequest struct {
	ClientActionID string          `json:"client_action_id"`
	Payload        json.RawMessage `json:"payload"`
}

type httpClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	userAgent string
}

func NewHTTPClient(cfg *config.Config, log *slog.Logger) *httpClient {
	client := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	// Определяем протокол
	scheme := "http://"
	if cfg.EnableTLS {
		scheme = "https://"
	}

	return &httpClient{
		client:    client,
		log:       log.With(slog.String("component", "http_client")),
		baseURL:   scheme + cfg.ServerAddress,
		userAgent: "Mealcheck-Station/1.0 (" + cfg.StationID + ")",
	}
}

// Ping проверяет доступность сервера
func (h *httpClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return checkin.Transient(fmt.Errorf("сервер недоступен: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return checkin.Transient(fmt.Errorf("сервер вернул статус: %d", resp.StatusCode))
	}
	return nil
}

// Submit отправляет действие. 5xx, 408, 429 и сетевые ошибки - временные,
// прочие 4xx - отказ INVALID_PAYLOAD.
func (h *httpClient) Submit(ctx context.Context, kind checkin.ActionKind, clientActionID string, payload json.RawMessage) (checkin.SubmitResponse, error) {
	path, ok := submitPaths[kind]
	if !ok {
		return checkin.SubmitResponse{}, fmt.Errorf("unknown action kind %q", kind)
	}

	body, err := json.Marshal(submitRequest{ClientActionID: clientActionID, Payload: payload})
	if err != nil {
		return checkin.SubmitResponse{}, fmt.Errorf("ошибка маршалинга тела запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return checkin.SubmitResponse{}, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Idempotency-Key", clientActionID)

	resp, err := h.client.Do(req)
	if err != nil {
		return checkin.SubmitResponse{}, checkin.Transient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return checkin.SubmitResponse{}, checkin.Transient(fmt.Errorf("ошибка чтения ответа: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out checkin.SubmitResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return checkin.SubmitResponse{}, checkin.Transient(fmt.Errorf("ошибка разбора ответа: %w", err))
		}
		return out, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return checkin.SubmitResponse{}, checkin.Transient(fmt.Errorf("сервер вернул статус: %d", resp.StatusCode))
	default:
		h.log.Warn("request rejected by server",
			"kind", kind,
			"client_action_id", clientActionID,
			"status", resp.StatusCode,
			"body", string(data),
		)
		return checkin.SubmitResponse{Status: checkin.SubmitRejected, Reason: checkin.ReasonInvalidPayload}, nil
	}
}
