package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/storage/memory"
)

func newProcess(id int64, mid string) *domain.PaymentProcess {
	return &domain.PaymentProcess{
		ID:                 id,
		Kind:               domain.ProcessKindApprove,
		OrderPublicID:      "order-" + mid,
		UserPublicID:       "user-1",
		Provider:           "DUMMY",
		MID:                mid,
		Amount:             1000,
		Status:             domain.ProcessStatusUnknown,
		GatewayReferenceID: domain.GatewayReferenceID("DUMMY", mid),
		ActiveRequestKey:   domain.ActiveRequestKey("DUMMY", mid, domain.ProcessKindApprove),
	}
}

func TestPaymentProcessRepository_ClaimRaceHasSingleWinner(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewPaymentProcessRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newProcess(1, "mid-1")))

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CasClaim(ctx, 1, []byte(`{}`), time.Now())
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.ProcessStatusPending, stored.Status)
	require.Equal(t, 1, stored.RequestAttemptCount)
}

func TestPaymentProcessRepository_WrongStatusMutatesNothing(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewPaymentProcessRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newProcess(1, "mid-1")))
	before, err := repo.Get(ctx, 1)
	require.NoError(t, err)

	ok, err := repo.CasRecordAck(ctx, 1, domain.Ack{Code: "0000", PGTransaction: "pg-1"}, []byte(`{}`), time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.CasTransition(ctx, 1, domain.ProcessStatusPending, domain.ProcessStatusSuccess, domain.Settlement{Code: "0000"})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = repo.CasTransition(ctx, 1, domain.ProcessStatusSuccess, domain.ProcessStatusFailed, domain.Settlement{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	after, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestPaymentProcessRepository_ActiveKeyReleasedOnTerminal(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewPaymentProcessRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newProcess(1, "mid-1")))
	require.ErrorIs(t, repo.Create(ctx, newProcess(2, "mid-1")), domain.ErrProcessAlreadyActive)

	ok, err := repo.CasClaim(ctx, 1, nil, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.CasRecordAck(ctx, 1, domain.Ack{Code: "0000", PGTransaction: "pg-1", HTTPStatus: 200}, nil, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	found, err := repo.FindByPGTransaction(ctx, "dummy", "pg-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), found.ID)

	ok, err = repo.CasUpdateWebhookResponse(ctx, 1, domain.ProcessStatusSuccess, domain.Settlement{PGApprovalNo: "A-1"})
	require.NoError(t, err)
	require.True(t, ok)

	approved, err := repo.FindApprovedByOrder(ctx, "order-mid-1")
	require.NoError(t, err)
	require.Empty(t, approved.ActiveRequestKey)
	require.Equal(t, "A-1", approved.PGApprovalNo)

	require.NoError(t, repo.Create(ctx, newProcess(2, "mid-1")))

	ref, err := repo.FindByGatewayReference(ctx, domain.GatewayReferenceID("dummy", "mid-1"))
	require.NoError(t, err)
	require.Equal(t, int64(2), ref.ID)

	unknown, err := repo.ListByStatus(ctx, domain.ProcessStatusUnknown, []string{"DUMMY"}, 10)
	require.NoError(t, err)
	require.Len(t, unknown, 1)

	none, err := repo.ListByStatus(ctx, domain.ProcessStatusUnknown, []string{"OTHER"}, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPaymentProcessRepository_ListSettleableSkipsUnacknowledged(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewPaymentProcessRepository(store)
	ctx := context.Background()
	now := time.Now()

	for id, mid := range map[int64]string{1: "mid-1", 2: "mid-2", 3: "mid-3", 4: "mid-4"} {
		require.NoError(t, repo.Create(ctx, newProcess(id, mid)))
	}
	for _, id := range []int64{1, 2, 3} {
		ok, err := repo.CasClaim(ctx, id, nil, now)
		require.NoError(t, err)
		require.True(t, ok)
	}
	// 1 без ответа провайдера, 2 с отказом без транзакции, 3 подтверждена.
	ok, err := repo.CasRecordAck(ctx, 2, domain.Ack{Code: "4001"}, nil, now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.CasRecordAck(ctx, 3, domain.Ack{Code: "0000", PGTransaction: "pg-3"}, nil, now)
	require.NoError(t, err)
	require.True(t, ok)

	settleable, err := repo.ListSettleable(ctx, []string{"dummy"}, 10)
	require.NoError(t, err)
	require.Len(t, settleable, 1)
	require.EqualValues(t, 3, settleable[0].ID)

	other, err := repo.ListSettleable(ctx, []string{"PGHUB"}, 10)
	require.NoError(t, err)
	require.Empty(t, other)
}
