package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// DummyID: идентификатор встроенного mock-провайдера.
const DummyID = "DUMMY"

const dummyCodeOK = "0000"
const dummyCodeDeclined = "4001"

type dummyRequest struct {
	GatewayReferenceID string `json:"gateway_reference_id"`
	MID                string `json:"mid"`
	Kind               string `json:"kind"`
	Amount             int64  `json:"amount"`
}

type dummyResponse struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	PGTransaction string `json:"pg_transaction,omitempty"`
}

// Dummy: конфигурируемый синхронный симулятор провайдера с двухфазным расчётом.
// Запрос подтверждается сразу, итог выдаётся отдельным вызовом Settle.
type Dummy struct {
	mu sync.Mutex

	// Acknowledge управляет флагом подтверждения в ответе на запрос.
	Acknowledge bool
	// Approve управляет итогом расчёта.
	Approve bool
	// CallErr имитирует сетевой сбой при отправке запроса.
	CallErr error
	// SettleErr имитирует сбой на шаге расчёта.
	SettleErr error
	// TransactionFor и ApprovalFor позволяют задать идентификаторы провайдера.
	TransactionFor func(process *domain.PaymentProcess) string
	ApprovalFor    func(process domain.PaymentProcess) string

	seq         atomic.Int64
	callCount   atomic.Int64
	settleCount atomic.Int64
}

// NewDummy возвращает mock с успешным сценарием по умолчанию.
func NewDummy() *Dummy {
	return &Dummy{Acknowledge: true, Approve: true}
}

func (d *Dummy) ID() string       { return DummyID }
func (d *Dummy) Endpoint() string { return "inproc://dummy" }

// PrepareRequest сериализует минимальный запрос; формат важен только для аудита.
func (d *Dummy) PrepareRequest(_ context.Context, process *domain.PaymentProcess) ([]byte, error) {
	return json.Marshal(dummyRequest{
		GatewayReferenceID: process.GatewayReferenceID,
		MID:                process.MID,
		Kind:               string(process.Kind),
		Amount:             process.Amount,
	})
}

// Call отвечает без сети и считает вызовы.
func (d *Dummy) Call(_ context.Context, process *domain.PaymentProcess, _ []byte) ([]byte, int, error) {
	d.callCount.Add(1)

	d.mu.Lock()
	ack, callErr, txFor := d.Acknowledge, d.CallErr, d.TransactionFor
	d.mu.Unlock()

	if callErr != nil {
		return nil, 0, callErr
	}
	resp := dummyResponse{Code: dummyCodeDeclined, Message: "rejected by dummy"}
	if ack {
		txn := fmt.Sprintf("txn_%d", d.seq.Add(1))
		if txFor != nil {
			txn = txFor(process)
		}
		resp = dummyResponse{Code: dummyCodeOK, Message: "accepted", PGTransaction: txn}
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, 0, err
	}
	return body, http.StatusOK, nil
}

func (d *Dummy) ParseAcknowledgementResponse(body []byte, httpStatus int) (domain.Ack, error) {
	var resp dummyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Ack{HTTPStatus: httpStatus}, fmt.Errorf("decode dummy ack: %w", err)
	}
	return domain.Ack{
		Code:          resp.Code,
		Message:       resp.Message,
		PGTransaction: resp.PGTransaction,
		Acknowledged:  httpStatus == http.StatusOK && resp.Code == dummyCodeOK,
		HTTPStatus:    httpStatus,
	}, nil
}

func (d *Dummy) IsSuccess(ack domain.Ack) bool {
	return ack.Acknowledged
}

// Settle выдаёт итог для строки, уже получившей подтверждение.
func (d *Dummy) Settle(_ context.Context, process domain.PaymentProcess) (domain.Settlement, bool, error) {
	d.settleCount.Add(1)

	d.mu.Lock()
	approve, settleErr, approvalFor := d.Approve, d.SettleErr, d.ApprovalFor
	d.mu.Unlock()

	if settleErr != nil {
		return domain.Settlement{}, false, settleErr
	}
	if !approve {
		return domain.Settlement{
			PGTransaction: process.PGTransaction,
			Code:          dummyCodeDeclined,
			Message:       "declined by dummy",
		}, false, nil
	}
	approval := fmt.Sprintf("AP%d", process.ID)
	if approvalFor != nil {
		approval = approvalFor(process)
	}
	return domain.Settlement{
		PGTransaction: process.PGTransaction,
		PGApprovalNo:  approval,
		Code:          dummyCodeOK,
		Message:       "settled",
	}, true, nil
}

// Configure меняет сценарий под блокировкой; удобно в тестах с параллельными вызовами.
func (d *Dummy) Configure(fn func(d *Dummy)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

// CallCount возвращает число отправленных запросов.
func (d *Dummy) CallCount() int64 { return d.callCount.Load() }

// SettleCount возвращает число вызовов расчёта.
func (d *Dummy) SettleCount() int64 { return d.settleCount.Load() }

var (
	_ Adapter = (*Dummy)(nil)
	_ Caller  = (*Dummy)(nil)
	_ Settler = (*Dummy)(nil)
)
