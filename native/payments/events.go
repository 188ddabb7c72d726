package payments

import (
	"encoding/hex"
	"strconv"

	"paygrid/core/types"
)

const (
	EventTypeConfigCreated              = "payments.config.created"
	EventTypeConfigUpdated              = "payments.config.updated"
	EventTypeUserPaymentCreated         = "payments.user.created"
	EventTypeGatewayCreated             = "payments.gateway.created"
	EventTypeGatewayDeleted             = "payments.gateway.deleted"
	EventTypeGatewaySignerChanged       = "payments.gateway.signer_changed"
	EventTypeGatewayFeeRecipientChanged = "payments.gateway.fee_recipient_changed"
	EventTypePolicyCreated              = "payments.policy.created"
	EventTypePolicyStatusChanged        = "payments.policy.status_changed"
	EventTypePolicyDeleted              = "payments.policy.deleted"
	EventTypePaymentRecord              = "payments.record"
)

func addrAttr(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

// NewConfigCreatedEvent returns the canonical payload emitted when the
// program config is initialized.
func NewConfigCreatedEvent(cfg *ProgramConfig) *types.Event {
	return &types.Event{
		Type: EventTypeConfigCreated,
		Attributes: map[string]string{
			"admin":              addrAttr(cfg.Admin),
			"feeRecipient":       addrAttr(cfg.FeeRecipient),
			"protocolFeeBps":     strconv.FormatUint(uint64(cfg.ProtocolFeeBps), 10),
			"maxPoliciesPerUser": strconv.FormatUint(uint64(cfg.MaxPoliciesPerUser), 10),
		},
	}
}

// NewConfigUpdatedEvent returns the canonical payload emitted when an admin
// mutates the program config.
func NewConfigUpdatedEvent(cfg *ProgramConfig) *types.Event {
	return &types.Event{
		Type: EventTypeConfigUpdated,
		Attributes: map[string]string{
			"admin":              addrAttr(cfg.Admin),
			"feeRecipient":       addrAttr(cfg.FeeRecipient),
			"protocolFeeBps":     strconv.FormatUint(uint64(cfg.ProtocolFeeBps), 10),
			"maxPoliciesPerUser": strconv.FormatUint(uint64(cfg.MaxPoliciesPerUser), 10),
			"emergencyPause":     strconv.FormatBool(cfg.EmergencyPause),
		},
	}
}

// NewUserPaymentCreatedEvent returns the canonical payload emitted when an
// (owner, mint) aggregate is created.
func NewUserPaymentCreatedEvent(u *UserPayment) *types.Event {
	return &types.Event{
		Type: EventTypeUserPaymentCreated,
		Attributes: map[string]string{
			"owner":        addrAttr(u.Owner),
			"tokenAccount": addrAttr(u.TokenAccount),
			"tokenMint":    addrAttr(u.TokenMint),
		},
	}
}

// NewGatewayCreatedEvent returns the canonical payload emitted when a gateway
// is registered.
func NewGatewayCreatedEvent(g *PaymentGateway) *types.Event {
	return &types.Event{
		Type: EventTypeGatewayCreated,
		Attributes: map[string]string{
			"authority":     addrAttr(g.Authority),
			"feeRecipient":  addrAttr(g.FeeRecipient),
			"gatewayFeeBps": strconv.FormatUint(uint64(g.GatewayFeeBps), 10),
			"name":          g.Name,
			"url":           g.URL,
		},
	}
}

// NewGatewayDeletedEvent returns the canonical payload emitted when a gateway
// is closed by the admin.
func NewGatewayDeletedEvent(g *PaymentGateway) *types.Event {
	return &types.Event{
		Type: EventTypeGatewayDeleted,
		Attributes: map[string]string{
			"gateway":   addrAttr(GatewayAddress(g.Authority)),
			"authority": addrAttr(g.Authority),
			"name":      g.Name,
		},
	}
}

// NewGatewaySignerChangedEvent returns the before/after audit payload for a
// signer rotation.
func NewGatewaySignerChangedEvent(g *PaymentGateway, oldSigner [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeGatewaySignerChanged,
		Attributes: map[string]string{
			"gateway":   addrAttr(GatewayAddress(g.Authority)),
			"oldSigner": addrAttr(oldSigner),
			"newSigner": addrAttr(g.Signer),
		},
	}
}

// NewGatewayFeeRecipientChangedEvent returns the before/after audit payload
// for a fee-recipient change.
func NewGatewayFeeRecipientChangedEvent(g *PaymentGateway, oldRecipient [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeGatewayFeeRecipientChanged,
		Attributes: map[string]string{
			"gateway":         addrAttr(GatewayAddress(g.Authority)),
			"oldFeeRecipient": addrAttr(oldRecipient),
			"newFeeRecipient": addrAttr(g.FeeRecipient),
		},
	}
}

// NewPolicyCreatedEvent returns the canonical payload emitted when a policy
// is created.
func NewPolicyCreatedEvent(p *PaymentPolicy) *types.Event {
	attrs := map[string]string{
		"userPayment": addrAttr(p.UserPayment),
		"recipient":   addrAttr(p.Recipient),
		"gateway":     addrAttr(p.Gateway),
		"policyId":    strconv.FormatUint(uint64(p.PolicyID), 10),
		"memo":        p.Memo,
	}
	if sub := p.PolicyType.Subscription; sub != nil {
		attrs["amount"] = strconv.FormatUint(sub.Amount, 10)
		attrs["frequency"] = sub.Frequency.String()
		attrs["nextPaymentDue"] = strconv.FormatInt(sub.NextPaymentDue, 10)
	}
	return &types.Event{Type: EventTypePolicyCreated, Attributes: attrs}
}

// NewPolicyStatusChangedEvent returns the payload carrying the old and new
// status of a policy.
func NewPolicyStatusChangedEvent(p *PaymentPolicy, oldStatus PaymentStatus) *types.Event {
	return &types.Event{
		Type: EventTypePolicyStatusChanged,
		Attributes: map[string]string{
			"policy":    addrAttr(PolicyAddress(p.UserPayment, p.PolicyID)),
			"policyId":  strconv.FormatUint(uint64(p.PolicyID), 10),
			"oldStatus": oldStatus.String(),
			"newStatus": p.Status.String(),
		},
	}
}

// NewPolicyDeletedEvent returns the payload emitted when an owner closes a
// policy.
func NewPolicyDeletedEvent(p *PaymentPolicy, owner [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypePolicyDeleted,
		Attributes: map[string]string{
			"policy":   addrAttr(PolicyAddress(p.UserPayment, p.PolicyID)),
			"owner":    addrAttr(owner),
			"policyId": strconv.FormatUint(uint64(p.PolicyID), 10),
		},
	}
}

// NewPaymentRecordEvent returns the append-only settlement record emitted
// after a successful charge. The record id is the policy's payment count
// after the charge.
func NewPaymentRecordEvent(p *PaymentPolicy, amount uint64, timestamp int64) *types.Event {
	return &types.Event{
		Type: EventTypePaymentRecord,
		Attributes: map[string]string{
			"policy":    addrAttr(PolicyAddress(p.UserPayment, p.PolicyID)),
			"gateway":   addrAttr(p.Gateway),
			"amount":    strconv.FormatUint(amount, 10),
			"timestamp": strconv.FormatInt(timestamp, 10),
			"memo":      p.Memo,
			"recordId":  strconv.FormatUint(uint64(p.PaymentCount), 10),
		},
	}
}
