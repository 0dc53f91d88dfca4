package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/provider"
)

func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	registry, err := provider.NewRegistry(provider.NewDummy())
	require.NoError(t, err)
	return NewConverter(&sequenceIDs{}, registry)
}

func TestConverter_FromRequest(t *testing.T) {
	converter := newTestConverter(t)

	process, err := converter.FromRequest(domain.RequestContext{
		Provider:      " dummy ",
		MID:           "mid-1",
		Amount:        1000,
		OrderPublicID: "order-1",
		UserPublicID:  "user-1",
		OrderNumber:   "ORD-1",
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, process.ID)
	require.Equal(t, "DUMMY", process.Provider)
	require.Equal(t, domain.ProcessKindApprove, process.Kind)
	require.Equal(t, domain.ProcessStatusUnknown, process.Status)
	require.Equal(t, "DUMMY-mid-1", process.GatewayReferenceID)
	require.Equal(t, "DUMMY:mid-1:APPROVE", process.ActiveRequestKey)
	require.Nil(t, process.OriginProcessID)
}

func TestConverter_FromRequestRejectsIncompleteContext(t *testing.T) {
	converter := newTestConverter(t)

	_, err := converter.FromRequest(domain.RequestContext{Provider: "DUMMY", MID: "mid-1", OrderPublicID: "o"})
	require.ErrorIs(t, err, domain.ErrPaymentAmountInvalid)
}

func TestConverter_FromRequestRejectsUnregisteredProvider(t *testing.T) {
	converter := newTestConverter(t)

	process, err := converter.FromRequest(domain.RequestContext{
		Provider:      "nope",
		MID:           "mid-1",
		Amount:        1000,
		OrderPublicID: "order-1",
	})
	require.ErrorIs(t, err, domain.ErrUnknownProvider)
	require.Nil(t, process)
}

func TestConverter_CancellationOf(t *testing.T) {
	converter := newTestConverter(t)
	origin := &domain.PaymentProcess{
		ID:            42,
		Kind:          domain.ProcessKindApprove,
		Provider:      "DUMMY",
		MID:           "mid-1",
		Amount:        1000,
		OrderPublicID: "order-1",
		UserPublicID:  "user-1",
		Status:        domain.ProcessStatusSuccess,
		PGTransaction: "txn_abc",
	}

	cancel, err := converter.CancellationOf(origin)
	require.NoError(t, err)
	require.Equal(t, domain.ProcessKindCancel, cancel.Kind)
	require.Equal(t, int64(-1000), cancel.Amount)
	require.Equal(t, domain.ProcessStatusUnknown, cancel.Status)
	require.NotNil(t, cancel.OriginProcessID)
	require.EqualValues(t, 42, *cancel.OriginProcessID)
	require.Equal(t, "DUMMY:mid-1:CANCEL", cancel.ActiveRequestKey)
	require.Empty(t, cancel.PGTransaction)
}

func TestConverter_CancellationRequiresApprovedOrigin(t *testing.T) {
	converter := newTestConverter(t)

	for _, status := range []domain.ProcessStatus{
		domain.ProcessStatusUnknown,
		domain.ProcessStatusPending,
		domain.ProcessStatusProcessing,
		domain.ProcessStatusFailed,
	} {
		_, err := converter.CancellationOf(&domain.PaymentProcess{ID: 1, Kind: domain.ProcessKindApprove, Status: status})
		require.ErrorIs(t, err, domain.ErrCancelOriginNotApproved, status)
	}

	_, err := converter.CancellationOf(&domain.PaymentProcess{ID: 1, Kind: domain.ProcessKindCancel, Status: domain.ProcessStatusCancelled})
	require.ErrorIs(t, err, domain.ErrCancelOriginNotApproved)
}
