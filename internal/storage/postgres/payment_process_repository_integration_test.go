package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

func newIntegrationProcess(id int64, mid string) *domain.PaymentProcess {
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

func TestPaymentProcessRepository_PostgresClaimRace(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewPaymentProcessRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newIntegrationProcess(1, "mid-1")))

	const workers = 8
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CasClaim(ctx, 1, []byte(`{"mid":"mid-1"}`), time.Now())
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
	require.NotNil(t, stored.RequestedAt)
}

func TestPaymentProcessRepository_PostgresActiveKeyAndTransitions(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewPaymentProcessRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newIntegrationProcess(1, "mid-1")))
	require.ErrorIs(t, repo.Create(ctx, newIntegrationProcess(2, "mid-1")), domain.ErrProcessAlreadyActive)

	// CAS против неверного статуса ничего не меняет
	ok, err := repo.CasTransition(ctx, 1, domain.ProcessStatusPending, domain.ProcessStatusSuccess, domain.Settlement{Code: "0000"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.CasClaim(ctx, 1, nil, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.CasRecordAck(ctx, 1, domain.Ack{Code: "0000", PGTransaction: "pg-1", Acknowledged: true, HTTPStatus: 200}, []byte(`{}`), time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	byTx, err := repo.FindByPGTransaction(ctx, "dummy", "pg-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), byTx.ID)

	ok, err = repo.CasUpdateWebhookResponse(ctx, 1, domain.ProcessStatusSuccess, domain.Settlement{PGApprovalNo: "A-1"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.CasUpdateWebhookResponse(ctx, 1, domain.ProcessStatusSuccess, domain.Settlement{PGApprovalNo: "A-2"})
	require.NoError(t, err)
	require.False(t, ok)

	approved, err := repo.FindApprovedByOrder(ctx, "order-mid-1")
	require.NoError(t, err)
	require.Equal(t, "A-1", approved.PGApprovalNo)
	require.Empty(t, approved.ActiveRequestKey)

	// после терминального статуса ключ свободен
	require.NoError(t, repo.Create(ctx, newIntegrationProcess(2, "mid-1")))

	unknown, err := repo.ListByStatus(ctx, domain.ProcessStatusUnknown, []string{"dummy"}, 10)
	require.NoError(t, err)
	require.Len(t, unknown, 1)
	require.Equal(t, int64(2), unknown[0].ID)

	ref, err := repo.FindByGatewayReference(ctx, domain.GatewayReferenceID("DUMMY", "mid-1"))
	require.NoError(t, err)
	require.Equal(t, int64(2), ref.ID)
}

func TestPaymentProcessRepository_PostgresListSettleable(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewPaymentProcessRepository(store)
	ctx := context.Background()
	now := time.Now()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, repo.Create(ctx, newIntegrationProcess(id, "mid-"+string(rune('0'+id)))))
		ok, err := repo.CasClaim(ctx, id, nil, now)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := repo.CasRecordAck(ctx, 2, domain.Ack{Code: "4001", HTTPStatus: 200}, nil, now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.CasRecordAck(ctx, 3, domain.Ack{Code: "0000", PGTransaction: "pg-3", Acknowledged: true, HTTPStatus: 200}, nil, now)
	require.NoError(t, err)
	require.True(t, ok)

	settleable, err := repo.ListSettleable(ctx, []string{"dummy"}, 10)
	require.NoError(t, err)
	require.Len(t, settleable, 1)
	require.EqualValues(t, 3, settleable[0].ID)

	pending, err := repo.ListByStatus(ctx, domain.ProcessStatusPending, nil, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
}
