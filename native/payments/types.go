package payments

import "fmt"

// PaymentStatus represents the lifecycle states of a payment policy.
type PaymentStatus uint8

const (
	PaymentStatusActive PaymentStatus = iota
	PaymentStatusPaused
)

// Valid reports whether the status value is within the supported range.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusActive, PaymentStatusPaused:
		return true
	default:
		return false
	}
}

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusActive:
		return "active"
	case PaymentStatusPaused:
		return "paused"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// FrequencyKind discriminates the supported payment frequencies.
type FrequencyKind uint8

const (
	FrequencyDaily FrequencyKind = iota
	FrequencyWeekly
	FrequencyMonthly
	FrequencyQuarterly
	FrequencySemiAnnually
	FrequencyAnnually
	FrequencyCustom
)

// PaymentFrequency describes how often a subscription charge recurs. Custom
// frequencies carry an interval in seconds; the interval is ignored for every
// other kind.
type PaymentFrequency struct {
	Kind     FrequencyKind
	Interval uint64
}

// Valid reports whether the frequency kind is within the supported range.
func (f PaymentFrequency) Valid() bool {
	switch f.Kind {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly,
		FrequencySemiAnnually, FrequencyAnnually, FrequencyCustom:
		return true
	default:
		return false
	}
}

// Validate enforces the creation-time frequency rules.
func (f PaymentFrequency) Validate() error {
	if !f.Valid() {
		return ErrInvalidFrequency
	}
	if f.Kind == FrequencyCustom && f.Interval == 0 {
		return ErrInvalidFrequency
	}
	return nil
}

func (f PaymentFrequency) String() string {
	switch f.Kind {
	case FrequencyDaily:
		return "daily"
	case FrequencyWeekly:
		return "weekly"
	case FrequencyMonthly:
		return "monthly"
	case FrequencyQuarterly:
		return "quarterly"
	case FrequencySemiAnnually:
		return "semiannually"
	case FrequencyAnnually:
		return "annually"
	case FrequencyCustom:
		return fmt.Sprintf("custom(%ds)", f.Interval)
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f.Kind))
	}
}

// PolicyKind discriminates the payment scheme variants. Only subscriptions
// are implemented today; the codec reserves a fixed-width slot so future
// variants (installment, one-time, milestone) can be added without changing
// the layout of existing records.
type PolicyKind uint8

const (
	PolicyKindSubscription PolicyKind = iota
)

// Subscription is the fixed-schedule recurring charge variant.
type Subscription struct {
	Amount         uint64
	AutoRenew      bool
	MaxRenewals    *uint32
	Frequency      PaymentFrequency
	NextPaymentDue int64
}

// PolicyType is the tagged variant describing a policy's payment scheme.
type PolicyType struct {
	Kind         PolicyKind
	Subscription *Subscription
}

// Validate enforces the creation-time policy rules. It is invoked exactly
// once, before any record is written.
func (p PolicyType) Validate() error {
	switch p.Kind {
	case PolicyKindSubscription:
		sub := p.Subscription
		if sub == nil {
			return ErrInvalidAmount
		}
		if sub.Amount == 0 {
			return ErrInvalidAmount
		}
		if err := sub.Frequency.Validate(); err != nil {
			return err
		}
		if sub.MaxRenewals != nil && *sub.MaxRenewals == 0 {
			return ErrInvalidInterval
		}
		return nil
	default:
		return ErrInvalidFrequency
	}
}

// Clone returns a deep copy of the policy type.
func (p PolicyType) Clone() PolicyType {
	clone := PolicyType{Kind: p.Kind}
	if p.Subscription != nil {
		sub := *p.Subscription
		if p.Subscription.MaxRenewals != nil {
			renewals := *p.Subscription.MaxRenewals
			sub.MaxRenewals = &renewals
		}
		clone.Subscription = &sub
	}
	return clone
}

// ProgramConfig is the singleton protocol configuration. It is created once
// at bootstrap and mutated only through admin-gated operations.
type ProgramConfig struct {
	Admin              [20]byte
	FeeRecipient       [20]byte
	ProtocolFeeBps     uint16
	MaxPoliciesPerUser uint32
	EmergencyPause     bool
}

// Clone returns a copy of the config.
func (c *ProgramConfig) Clone() *ProgramConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// PaymentGateway is the record for one payment operator. The authority is the
// immutable owner; the signer is the key allowed to trigger payments on the
// gateway's behalf and may be rotated by the authority.
type PaymentGateway struct {
	Authority      [20]byte
	FeeRecipient   [20]byte
	GatewayFeeBps  uint16
	IsActive       bool
	TotalProcessed uint64
	Signer         [20]byte
	Name           string
	URL            string
	CreatedAt      int64
}

// Clone returns a copy of the gateway record.
func (g *PaymentGateway) Clone() *PaymentGateway {
	if g == nil {
		return nil
	}
	clone := *g
	return &clone
}

// UserPayment is the per-(owner, mint) aggregate root. Every policy under the
// same owner and mint shares its counters and UpdatedAt.
type UserPayment struct {
	Owner               [20]byte
	TokenAccount        [20]byte
	TokenMint           [20]byte
	ActivePoliciesCount uint32
	IsActive            bool
	CreatedAt           int64
	UpdatedAt           int64
}

// Clone returns a copy of the user payment record.
func (u *UserPayment) Clone() *UserPayment {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

// PaymentPolicy connects a UserPayment with a recipient and a gateway and
// carries the schedule that settlements execute against.
type PaymentPolicy struct {
	UserPayment  [20]byte
	Recipient    [20]byte
	Gateway      [20]byte
	PolicyType   PolicyType
	Status       PaymentStatus
	Memo         string
	TotalPaid    uint64
	PaymentCount uint32
	PolicyID     uint32
	CreatedAt    int64
	UpdatedAt    int64
}

// Clone returns a deep copy of the policy record.
func (p *PaymentPolicy) Clone() *PaymentPolicy {
	if p == nil {
		return nil
	}
	clone := *p
	clone.PolicyType = p.PolicyType.Clone()
	return &clone
}
