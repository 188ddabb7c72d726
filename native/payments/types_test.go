package payments

import (
	"errors"
	"testing"
)

func subscriptionPolicy(amount uint64, freq PaymentFrequency, maxRenewals *uint32) PolicyType {
	return PolicyType{
		Kind: PolicyKindSubscription,
		Subscription: &Subscription{
			Amount:      amount,
			Frequency:   freq,
			MaxRenewals: maxRenewals,
		},
	}
}

func TestPolicyTypeValidate(t *testing.T) {
	one := uint32(1)
	zero := uint32(0)
	cases := []struct {
		name   string
		policy PolicyType
		want   error
	}{
		{"valid_daily", subscriptionPolicy(100, PaymentFrequency{Kind: FrequencyDaily}, nil), nil},
		{"valid_custom", subscriptionPolicy(1, PaymentFrequency{Kind: FrequencyCustom, Interval: 60}, &one), nil},
		{"zero_amount", subscriptionPolicy(0, PaymentFrequency{Kind: FrequencyDaily}, nil), ErrInvalidAmount},
		{"zero_custom_interval", subscriptionPolicy(100, PaymentFrequency{Kind: FrequencyCustom}, nil), ErrInvalidFrequency},
		{"zero_max_renewals", subscriptionPolicy(100, PaymentFrequency{Kind: FrequencyWeekly}, &zero), ErrInvalidInterval},
		{"unknown_frequency", subscriptionPolicy(100, PaymentFrequency{Kind: FrequencyKind(99)}, nil), ErrInvalidFrequency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPolicyTypeCloneIsDeep(t *testing.T) {
	renewals := uint32(5)
	original := subscriptionPolicy(10, PaymentFrequency{Kind: FrequencyMonthly}, &renewals)
	clone := original.Clone()
	*clone.Subscription.MaxRenewals = 9
	clone.Subscription.Amount = 77
	if *original.Subscription.MaxRenewals != 5 || original.Subscription.Amount != 10 {
		t.Fatalf("clone aliases the original: %+v", original.Subscription)
	}
}

func TestPaymentStatusValid(t *testing.T) {
	if !PaymentStatusActive.Valid() || !PaymentStatusPaused.Valid() {
		t.Fatalf("expected both statuses to be valid")
	}
	if PaymentStatus(7).Valid() {
		t.Fatalf("out-of-range status must be invalid")
	}
}
