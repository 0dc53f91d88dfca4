package domain

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ProcessStatus
		want     bool
	}{
		{ProcessStatusUnknown, ProcessStatusPending, true},
		{ProcessStatusUnknown, ProcessStatusSuccess, false},
		{ProcessStatusPending, ProcessStatusProcessing, true},
		{ProcessStatusPending, ProcessStatusSuccess, true},
		{ProcessStatusPending, ProcessStatusFailed, true},
		{ProcessStatusPending, ProcessStatusUnknown, false},
		{ProcessStatusProcessing, ProcessStatusCancelled, true},
		{ProcessStatusProcessing, ProcessStatusPending, false},
		{ProcessStatusSuccess, ProcessStatusFailed, false},
		{ProcessStatusFailed, ProcessStatusPending, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s,%s)=%v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestProcessStatusTerminal(t *testing.T) {
	terminal := []ProcessStatus{ProcessStatusSuccess, ProcessStatusFailed, ProcessStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("status %s must be terminal", s)
		}
	}
	for _, s := range []ProcessStatus{ProcessStatusUnknown, ProcessStatusPending, ProcessStatusProcessing} {
		if s.IsTerminal() {
			t.Fatalf("status %s must not be terminal", s)
		}
	}
	if ProcessStatus("broken").Valid() {
		t.Fatal("unexpected valid status")
	}
}

func TestGatewayReferenceID_Deterministic(t *testing.T) {
	a := GatewayReferenceID("dummy", "mid-1")
	b := GatewayReferenceID("DUMMY", "mid-1")
	if a != b {
		t.Fatalf("expected deterministic reference, got %q and %q", a, b)
	}
	if a != "DUMMY-mid-1" {
		t.Fatalf("unexpected reference %q", a)
	}
}

func TestPaymentProcess_SuccessStatus(t *testing.T) {
	approve := PaymentProcess{Kind: ProcessKindApprove}
	cancel := PaymentProcess{Kind: ProcessKindCancel}
	if approve.SuccessStatus() != ProcessStatusSuccess {
		t.Fatalf("approve success status = %s", approve.SuccessStatus())
	}
	if cancel.SuccessStatus() != ProcessStatusCancelled {
		t.Fatalf("cancel success status = %s", cancel.SuccessStatus())
	}
}

func TestRequestContextValidate(t *testing.T) {
	valid := RequestContext{Provider: "DUMMY", MID: "m1", Amount: 1000, OrderPublicID: "o1", UserPublicID: "u1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name string
		mut  func(r *RequestContext)
		want error
	}{
		{name: "no provider", mut: func(r *RequestContext) { r.Provider = " " }, want: ErrPaymentProviderRequired},
		{name: "no mid", mut: func(r *RequestContext) { r.MID = "" }, want: ErrMIDRequired},
		{name: "no order", mut: func(r *RequestContext) { r.OrderPublicID = "" }, want: ErrOrderIDRequired},
		{name: "zero amount", mut: func(r *RequestContext) { r.Amount = 0 }, want: ErrPaymentAmountInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mut(&req)
			if err := req.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate()=%v, want %v", err, tc.want)
			}
		})
	}
}
