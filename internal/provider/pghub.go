package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const (
	pghubCodeOK       = "0000"
	pghubTypeApprove  = "approve"
	pghubTypeCancel   = "cancel"
	pghubStatusOK     = "APPROVED"
	pghubStatusCancel = "CANCELLED"
)

// PGHubConfig описывает подключение к HTTP-провайдеру с JSON API.
type PGHubConfig struct {
	ID         string
	Endpoint   string
	MerchantID string
	Currency   string
	// MinorUnits: число знаков дробной части валюты: 2 для USD, 0 для KRW.
	MinorUnits int32
}

// PGHub: адаптер провайдера, который подтверждает запрос синхронно,
// а итог присылает webhook-ом. Суммы на проводе — десятичные строки.
type PGHub struct {
	cfg PGHubConfig
}

// NewPGHub создаёт адаптер; идентификатор приводится к верхнему регистру.
func NewPGHub(cfg PGHubConfig) *PGHub {
	cfg.ID = strings.ToUpper(cfg.ID)
	return &PGHub{cfg: cfg}
}

func (p *PGHub) ID() string       { return p.cfg.ID }
func (p *PGHub) Endpoint() string { return p.cfg.Endpoint }

type pghubRequest struct {
	MerchantID        string `json:"merchant_id"`
	MerchantReference string `json:"merchant_reference"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	OrderNumber       string `json:"order_number,omitempty"`
}

type pghubAck struct {
	ResultCode    string `json:"result_code"`
	ResultMessage string `json:"result_message"`
	TransactionID string `json:"transaction_id"`
	ApprovalNo    string `json:"approval_no,omitempty"`
}

type pghubWebhook struct {
	MerchantReference string `json:"merchant_reference"`
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"status"`
	ApprovalNo        string `json:"approval_no,omitempty"`
	ResultCode        string `json:"result_code"`
	ResultMessage     string `json:"result_message"`
}

// FormatAmount переводит сумму в минорных единицах в десятичную строку провайдера.
// Знак не передаётся: направление операции задаётся полем type.
func (p *PGHub) FormatAmount(minor int64) string {
	return decimal.New(minor, -p.cfg.MinorUnits).Abs().StringFixed(p.cfg.MinorUnits)
}

// ParseAmount выполняет обратное преобразование.
func (p *PGHub) ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	scaled := d.Shift(p.cfg.MinorUnits)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d fractional digits", value, p.cfg.MinorUnits)
	}
	return scaled.IntPart(), nil
}

func (p *PGHub) PrepareRequest(_ context.Context, process *domain.PaymentProcess) ([]byte, error) {
	req := pghubRequest{
		MerchantID:        p.cfg.MerchantID,
		MerchantReference: process.GatewayReferenceID,
		Type:              pghubTypeApprove,
		Amount:            p.FormatAmount(process.Amount),
		Currency:          p.cfg.Currency,
		OrderNumber:       process.OrderNumber,
	}
	// Отмена идёт с тем же mid, провайдер находит исходную операцию по merchant_reference.
	if process.IsCancellation() {
		req.Type = pghubTypeCancel
	}
	return json.Marshal(req)
}

func (p *PGHub) ParseAcknowledgementResponse(body []byte, httpStatus int) (domain.Ack, error) {
	ack := domain.Ack{HTTPStatus: httpStatus}
	if httpStatus >= http.StatusInternalServerError {
		return ack, fmt.Errorf("provider %s returned http %d", p.cfg.ID, httpStatus)
	}
	var resp pghubAck
	if err := json.Unmarshal(body, &resp); err != nil {
		return ack, fmt.Errorf("decode %s ack: %w", p.cfg.ID, err)
	}
	ack.Code = resp.ResultCode
	ack.Message = resp.ResultMessage
	ack.PGTransaction = resp.TransactionID
	ack.ApprovalNo = resp.ApprovalNo
	ack.Acknowledged = httpStatus == http.StatusOK && resp.ResultCode == pghubCodeOK
	return ack, nil
}

func (p *PGHub) IsSuccess(ack domain.Ack) bool {
	return ack.Acknowledged && ack.PGTransaction != ""
}

// ParseWebhook разбирает уведомление об итоге операции.
func (p *PGHub) ParseWebhook(body []byte) (WebhookResult, error) {
	var hook pghubWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return WebhookResult{}, fmt.Errorf("%w: decode %s webhook: %v", ErrMalformedWebhook, p.cfg.ID, err)
	}
	if hook.MerchantReference == "" {
		return WebhookResult{}, fmt.Errorf("%w: %s webhook without merchant_reference", ErrMalformedWebhook, p.cfg.ID)
	}
	status := strings.ToUpper(hook.Status)
	return WebhookResult{
		GatewayReferenceID: hook.MerchantReference,
		PGTransaction:      hook.TransactionID,
		Approved:           status == pghubStatusOK || status == pghubStatusCancel,
		Settlement: domain.Settlement{
			PGTransaction:   hook.TransactionID,
			PGApprovalNo:    hook.ApprovalNo,
			Code:            hook.ResultCode,
			Message:         hook.ResultMessage,
			ResponsePayload: body,
		},
	}, nil
}

var (
	_ Adapter       = (*PGHub)(nil)
	_ WebhookParser = (*PGHub)(nil)
)
