package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/version"
)

const (
	defaultCallTimeout  = 10 * time.Second
	maxResponseBodySize = 1 << 20
)

// Client отправляет подготовленный запрос провайдеру. Провайдеры с Caller
// обслуживаются в процессе, остальные получают POST на Endpoint.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *log.Entry
}

// NewClient создаёт клиента с ограничением времени на один вызов.
func NewClient(timeout time.Duration, logger *log.Entry) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "provider-client")
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// Send возвращает тело ответа и HTTP-статус. Ошибка означает, что ответа нет:
// таймаут, обрыв соединения или отказ in-process провайдера.
func (c *Client) Send(ctx context.Context, adapter Adapter, process *domain.PaymentProcess, payload []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	if caller, ok := adapter.(Caller); ok {
		body, status, err := caller.Call(ctx, process, payload)
		c.observe(adapter.ID(), process.ID, status, started, err)
		return body, status, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, adapter.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build %s request: %w", adapter.ID(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Reference", process.GatewayReferenceID)
	req.Header.Set("User-Agent", version.UserAgent("gateway"))

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(adapter.ID(), process.ID, 0, started, err)
		return nil, 0, fmt.Errorf("call %s: %w", adapter.ID(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	c.observe(adapter.ID(), process.ID, resp.StatusCode, started, err)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %w", adapter.ID(), err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) observe(providerID string, processID int64, status int, started time.Time, err error) {
	entry := c.logger.WithFields(log.Fields{
		"provider":    providerID,
		"process_id":  processID,
		"http_status": status,
		"duration":    time.Since(started).String(),
	})
	if err != nil {
		entry.WithError(err).Warn("provider call failed")
		return
	}
	entry.Debug("provider call completed")
}
