package payments

import (
	"encoding/binary"
	"fmt"
)

// PolicyType records are persisted as a one-byte discriminant followed by a
// constant-width payload. Every variant must serialize into exactly
// PolicyVariantSize bytes, zero padded, so future variants can be added
// without changing the layout of records already on disk.
const (
	PolicyVariantSize = 128
	PolicyTypeSize    = 1 + PolicyVariantSize
)

// EncodePolicyType serializes the policy type into its fixed-width form.
func EncodePolicyType(p PolicyType) ([]byte, error) {
	buf := make([]byte, PolicyTypeSize)
	buf[0] = byte(p.Kind)
	switch p.Kind {
	case PolicyKindSubscription:
		sub := p.Subscription
		if sub == nil {
			return nil, fmt.Errorf("payments: subscription variant missing payload")
		}
		payload := buf[1:]
		binary.LittleEndian.PutUint64(payload[0:8], sub.Amount)
		if sub.AutoRenew {
			payload[8] = 1
		}
		if sub.MaxRenewals != nil {
			payload[9] = 1
			binary.LittleEndian.PutUint32(payload[10:14], *sub.MaxRenewals)
		}
		payload[14] = byte(sub.Frequency.Kind)
		binary.LittleEndian.PutUint64(payload[15:23], sub.Frequency.Interval)
		binary.LittleEndian.PutUint64(payload[23:31], uint64(sub.NextPaymentDue))
		return buf, nil
	default:
		return nil, fmt.Errorf("payments: unknown policy kind %d", p.Kind)
	}
}

// DecodePolicyType parses the fixed-width form produced by EncodePolicyType.
func DecodePolicyType(data []byte) (PolicyType, error) {
	if len(data) != PolicyTypeSize {
		return PolicyType{}, fmt.Errorf("payments: policy type must be %d bytes, got %d", PolicyTypeSize, len(data))
	}
	kind := PolicyKind(data[0])
	switch kind {
	case PolicyKindSubscription:
		payload := data[1:]
		sub := &Subscription{
			Amount:    binary.LittleEndian.Uint64(payload[0:8]),
			AutoRenew: payload[8] == 1,
			Frequency: PaymentFrequency{
				Kind:     FrequencyKind(payload[14]),
				Interval: binary.LittleEndian.Uint64(payload[15:23]),
			},
			NextPaymentDue: int64(binary.LittleEndian.Uint64(payload[23:31])),
		}
		if payload[9] == 1 {
			renewals := binary.LittleEndian.Uint32(payload[10:14])
			sub.MaxRenewals = &renewals
		}
		if !sub.Frequency.Valid() {
			return PolicyType{}, ErrInvalidFrequency
		}
		return PolicyType{Kind: PolicyKindSubscription, Subscription: sub}, nil
	default:
		return PolicyType{}, fmt.Errorf("payments: unknown policy kind %d", kind)
	}
}
