package payments

import (
	"errors"
	"math"
	"math/big"
	"strings"
	"time"

	"paygrid/core/events"
	"paygrid/core/types"
)

var errNilState = errors.New("payments engine: state not configured")

// engineState is the record-store surface the engine needs. Gateways are
// keyed by their authority, user payments by their derived record address,
// policies by parent record address and policy id, token accounts by their
// derived account address.
type engineState interface {
	PaymentsConfigGet() (*ProgramConfig, bool)
	PaymentsConfigPut(*ProgramConfig) error
	GatewayGet(authority [20]byte) (*PaymentGateway, bool)
	GatewayPut(*PaymentGateway) error
	GatewayDelete(authority [20]byte) error
	UserPaymentGet(addr [20]byte) (*UserPayment, bool)
	UserPaymentPut(*UserPayment) error
	PolicyGet(userPayment [20]byte, policyID uint32) (*PaymentPolicy, bool)
	PolicyPut(*PaymentPolicy) error
	PolicyDelete(userPayment [20]byte, policyID uint32) error
	TokenAccountGet(addr [20]byte) (*types.TokenAccount, bool)
	TokenAccountPut(addr [20]byte, account *types.TokenAccount) error
}

type paymentsEvent struct {
	evt *types.Event
}

func (e paymentsEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e paymentsEvent) Event() *types.Event { return e.evt }

// Engine wires the recurring-payments business logic with external state and
// event emitters. Every exported method is one atomic operation: all checks
// and computations run before the first durable mutation, so a failure leaves
// records and balances untouched.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a payments engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(paymentsEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) config() (*ProgramConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, ok := e.state.PaymentsConfigGet()
	if !ok {
		return nil, ErrConfigNotFound
	}
	return cfg, nil
}

func (e *Engine) guardPause() error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	if cfg.EmergencyPause {
		return ErrProgramPaused
	}
	return nil
}

// InitializeConfig creates the singleton program config. It may run exactly
// once, at bootstrap.
func (e *Engine) InitializeConfig(admin, feeRecipient [20]byte, protocolFeeBps uint16, maxPoliciesPerUser uint32) (*ProgramConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if protocolFeeBps > 10_000 {
		return nil, ErrInvalidFeeBps
	}
	if _, ok := e.state.PaymentsConfigGet(); ok {
		return nil, ErrConfigExists
	}
	cfg := &ProgramConfig{
		Admin:              admin,
		FeeRecipient:       feeRecipient,
		ProtocolFeeBps:     protocolFeeBps,
		MaxPoliciesPerUser: maxPoliciesPerUser,
	}
	if err := e.state.PaymentsConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigCreatedEvent(cfg))
	return cfg.Clone(), nil
}

// SetPause flips the emergency pause flag. Admin only.
func (e *Engine) SetPause(caller [20]byte, paused bool) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	if cfg.Admin != caller {
		return ErrUnauthorized
	}
	if cfg.EmergencyPause == paused {
		return nil
	}
	cfg.EmergencyPause = paused
	if err := e.state.PaymentsConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewConfigUpdatedEvent(cfg))
	return nil
}

// UpdateConfig mutates the protocol fee recipient, fee rate and per-user
// policy cap. Admin only.
func (e *Engine) UpdateConfig(caller, feeRecipient [20]byte, protocolFeeBps uint16, maxPoliciesPerUser uint32) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	if cfg.Admin != caller {
		return ErrUnauthorized
	}
	if protocolFeeBps > 10_000 {
		return ErrInvalidFeeBps
	}
	cfg.FeeRecipient = feeRecipient
	cfg.ProtocolFeeBps = protocolFeeBps
	cfg.MaxPoliciesPerUser = maxPoliciesPerUser
	if err := e.state.PaymentsConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewConfigUpdatedEvent(cfg))
	return nil
}

// CreateUserPayment initialises the (owner, mint) aggregate that all of the
// owner's policies for that mint share.
func (e *Engine) CreateUserPayment(owner, mint [20]byte) (*UserPayment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	addr := UserPaymentAddress(owner, mint)
	if _, ok := e.state.UserPaymentGet(addr); ok {
		return nil, ErrUserPaymentExists
	}
	now := e.now()
	up := &UserPayment{
		Owner:        owner,
		TokenAccount: TokenAccountAddress(owner, mint),
		TokenMint:    mint,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.state.UserPaymentPut(up); err != nil {
		return nil, err
	}
	e.emit(NewUserPaymentCreatedEvent(up))
	return up.Clone(), nil
}

// CreateGateway registers a payment operator. Admin only. The gateway signer
// starts out as the authority and can be rotated afterwards.
func (e *Engine) CreateGateway(caller, authority, feeRecipient [20]byte, gatewayFeeBps uint16, name, url string) (*PaymentGateway, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	if cfg.Admin != caller {
		return nil, ErrUnauthorized
	}
	if gatewayFeeBps > 10_000 {
		return nil, ErrInvalidFeeBps
	}
	if _, ok := e.state.GatewayGet(authority); ok {
		return nil, ErrGatewayExists
	}
	gw := &PaymentGateway{
		Authority:     authority,
		FeeRecipient:  feeRecipient,
		GatewayFeeBps: gatewayFeeBps,
		IsActive:      true,
		Signer:        authority,
		Name:          strings.TrimSpace(name),
		URL:           strings.TrimSpace(url),
		CreatedAt:     e.now(),
	}
	if err := e.state.GatewayPut(gw); err != nil {
		return nil, err
	}
	e.emit(NewGatewayCreatedEvent(gw))
	return gw.Clone(), nil
}

// SetGatewayActive toggles a gateway's active flag. Admin only.
func (e *Engine) SetGatewayActive(caller, authority [20]byte, active bool) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	if cfg.EmergencyPause {
		return ErrProgramPaused
	}
	if cfg.Admin != caller {
		return ErrUnauthorized
	}
	gw, ok := e.state.GatewayGet(authority)
	if !ok {
		return ErrGatewayNotFound
	}
	if gw.IsActive == active {
		return nil
	}
	gw.IsActive = active
	return e.state.GatewayPut(gw)
}

// DeleteGateway closes an inactive gateway. Admin only.
func (e *Engine) DeleteGateway(caller, authority [20]byte) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	if cfg.EmergencyPause {
		return ErrProgramPaused
	}
	if cfg.Admin != caller {
		return ErrUnauthorized
	}
	gw, ok := e.state.GatewayGet(authority)
	if !ok {
		return ErrGatewayNotFound
	}
	if gw.IsActive {
		return ErrGatewayActive
	}
	if err := e.state.GatewayDelete(authority); err != nil {
		return err
	}
	e.emit(NewGatewayDeletedEvent(gw))
	return nil
}

// ChangeGatewaySigner rotates the key allowed to trigger payments on the
// gateway's behalf. Gateway authority only.
func (e *Engine) ChangeGatewaySigner(caller [20]byte, newSigner [20]byte) error {
	if err := e.guardPause(); err != nil {
		return err
	}
	gw, ok := e.state.GatewayGet(caller)
	if !ok {
		return ErrGatewayNotFound
	}
	oldSigner := gw.Signer
	gw.Signer = newSigner
	if err := e.state.GatewayPut(gw); err != nil {
		return err
	}
	e.emit(NewGatewaySignerChangedEvent(gw, oldSigner))
	return nil
}

// ChangeGatewayFeeRecipient redirects the gateway's fee share. Gateway
// authority only.
func (e *Engine) ChangeGatewayFeeRecipient(caller [20]byte, newRecipient [20]byte) error {
	if err := e.guardPause(); err != nil {
		return err
	}
	gw, ok := e.state.GatewayGet(caller)
	if !ok {
		return ErrGatewayNotFound
	}
	oldRecipient := gw.FeeRecipient
	gw.FeeRecipient = newRecipient
	if err := e.state.GatewayPut(gw); err != nil {
		return err
	}
	e.emit(NewGatewayFeeRecipientChangedEvent(gw, oldRecipient))
	return nil
}

// CreatePolicy installs a new payment policy under the caller's (owner,
// mint) aggregate. A zero policy id derives the next id from the aggregate's
// active count; otherwise the caller-supplied id is used verbatim. A due date
// at or before now is snapped to now so the first charge is due immediately
// rather than skipped into the future.
func (e *Engine) CreatePolicy(owner, mint [20]byte, policyID uint32, recipient, gatewayAuthority [20]byte, policyType PolicyType, memo string) (*PaymentPolicy, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	if err := policyType.Validate(); err != nil {
		return nil, err
	}
	upAddr := UserPaymentAddress(owner, mint)
	up, ok := e.state.UserPaymentGet(upAddr)
	if !ok {
		return nil, ErrUserPaymentNotFound
	}
	if up.Owner != owner {
		return nil, ErrUnauthorized
	}
	if up.ActivePoliciesCount >= cfg.MaxPoliciesPerUser {
		return nil, ErrMaxPoliciesReached
	}
	if up.ActivePoliciesCount == math.MaxUint32 {
		return nil, ErrMaxPoliciesReached
	}
	gw, ok := e.state.GatewayGet(gatewayAuthority)
	if !ok {
		return nil, ErrGatewayNotFound
	}
	if !gw.IsActive {
		return nil, ErrGatewayInactive
	}
	if policyID == 0 {
		policyID = up.ActivePoliciesCount + 1
	}
	if _, ok := e.state.PolicyGet(upAddr, policyID); ok {
		return nil, ErrPolicyExists
	}
	now := e.now()
	pt := policyType.Clone()
	if sub := pt.Subscription; sub != nil && sub.NextPaymentDue <= now {
		sub.NextPaymentDue = now
	}
	policy := &PaymentPolicy{
		UserPayment: upAddr,
		Recipient:   recipient,
		Gateway:     gatewayAuthority,
		PolicyType:  pt,
		Status:      PaymentStatusActive,
		Memo:        strings.TrimSpace(memo),
		PolicyID:    policyID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.state.PolicyPut(policy); err != nil {
		return nil, err
	}
	up.ActivePoliciesCount++
	up.UpdatedAt = now
	if err := e.state.UserPaymentPut(up); err != nil {
		return nil, err
	}
	e.emit(NewPolicyCreatedEvent(policy))
	return policy.Clone(), nil
}

// ChangePolicyStatus switches a policy between Active and Paused. Owner only,
// allowed regardless of schedule state.
func (e *Engine) ChangePolicyStatus(caller, mint [20]byte, policyID uint32, newStatus PaymentStatus) error {
	if err := e.guardPause(); err != nil {
		return err
	}
	if !newStatus.Valid() {
		return ErrInvalidPolicyStatusTransition
	}
	upAddr := UserPaymentAddress(caller, mint)
	up, ok := e.state.UserPaymentGet(upAddr)
	if !ok {
		return ErrUserPaymentNotFound
	}
	if up.Owner != caller {
		return ErrUnauthorized
	}
	policy, ok := e.state.PolicyGet(upAddr, policyID)
	if !ok {
		return ErrPolicyNotFound
	}
	now := e.now()
	oldStatus := policy.Status
	policy.Status = newStatus
	policy.UpdatedAt = now
	if err := e.state.PolicyPut(policy); err != nil {
		return err
	}
	up.UpdatedAt = now
	if err := e.state.UserPaymentPut(up); err != nil {
		return err
	}
	e.emit(NewPolicyStatusChangedEvent(policy, oldStatus))
	return nil
}

// DeletePolicy closes a policy. Owner only, allowed at any time.
func (e *Engine) DeletePolicy(caller, mint [20]byte, policyID uint32) error {
	if err := e.guardPause(); err != nil {
		return err
	}
	upAddr := UserPaymentAddress(caller, mint)
	up, ok := e.state.UserPaymentGet(upAddr)
	if !ok {
		return ErrUserPaymentNotFound
	}
	if up.Owner != caller {
		return ErrUnauthorized
	}
	policy, ok := e.state.PolicyGet(upAddr, policyID)
	if !ok {
		return ErrPolicyNotFound
	}
	if err := e.state.PolicyDelete(upAddr, policyID); err != nil {
		return err
	}
	if up.ActivePoliciesCount > 0 {
		up.ActivePoliciesCount--
	}
	up.UpdatedAt = e.now()
	if err := e.state.UserPaymentPut(up); err != nil {
		return err
	}
	e.emit(NewPolicyDeletedEvent(policy, caller))
	return nil
}

// PaymentReceipt summarises one settled charge.
type PaymentReceipt struct {
	Policy          [20]byte
	Gateway         [20]byte
	Amount          uint64
	GatewayFee      uint64
	ProtocolFee     uint64
	RecipientAmount uint64
	RecordID        uint32
	Timestamp       int64
	NextPaymentDue  int64
}

// ExecutePayment settles one due charge against a policy: it validates the
// caller and every funding precondition, splits the amount between recipient,
// gateway and protocol by basis points, moves value under the payments
// delegate authority, advances the schedule anchored at the previous due
// date, and updates the monotonic counters. Any failure leaves all records
// and balances untouched.
func (e *Engine) ExecutePayment(caller, owner, mint [20]byte, policyID uint32) (*PaymentReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	if cfg.EmergencyPause {
		return nil, ErrProgramPaused
	}

	upAddr := UserPaymentAddress(owner, mint)
	up, ok := e.state.UserPaymentGet(upAddr)
	if !ok {
		return nil, ErrUserPaymentNotFound
	}
	policy, ok := e.state.PolicyGet(upAddr, policyID)
	if !ok {
		return nil, ErrPolicyNotFound
	}
	gw, ok := e.state.GatewayGet(policy.Gateway)
	if !ok {
		return nil, ErrGatewayNotFound
	}
	if !gw.IsActive {
		return nil, ErrGatewayInactive
	}
	if caller != gw.Signer && caller != up.Owner {
		return nil, ErrUnauthorized
	}
	if !up.IsActive {
		return nil, ErrUserPaymentInactive
	}
	if policy.Status != PaymentStatusActive {
		return nil, ErrPolicyPaused
	}
	sub := policy.PolicyType.Subscription
	if sub == nil {
		return nil, ErrInvalidFrequency
	}
	amount := new(big.Int).SetUint64(sub.Amount)

	source, ok := e.state.TokenAccountGet(up.TokenAccount)
	if !ok {
		return nil, ErrTokenAccountNotFound
	}
	source = types.EnsureTokenAccount(source.Clone(), up.Owner, mint)
	delegate := DelegateAddress()
	if source.Delegate == nil || *source.Delegate != delegate {
		return nil, ErrNoDelegateSet
	}
	if source.DelegatedAmount.Cmp(amount) < 0 {
		return nil, ErrInsufficientDelegatedAmount
	}
	now := e.now()
	if now < sub.NextPaymentDue {
		return nil, ErrPaymentNotDue
	}
	if source.Balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	gatewayFee, err := feeShare(sub.Amount, gw.GatewayFeeBps)
	if err != nil {
		return nil, err
	}
	protocolFee, err := feeShare(sub.Amount, cfg.ProtocolFeeBps)
	if err != nil {
		return nil, err
	}
	recipientAmount, err := checkedSubU64(sub.Amount, gatewayFee)
	if err != nil {
		return nil, err
	}
	recipientAmount, err = checkedSubU64(recipientAmount, protocolFee)
	if err != nil {
		return nil, err
	}

	// The schedule advance is anchored at the previous due date, never at
	// now, so the cadence does not drift when charges land late.
	newDue, err := NextPaymentDue(sub.NextPaymentDue, sub.Frequency, now)
	if err != nil {
		return nil, err
	}
	newTotalPaid, err := checkedAddU64(policy.TotalPaid, sub.Amount)
	if err != nil {
		return nil, err
	}
	if policy.PaymentCount == math.MaxUint32 {
		return nil, ErrArithmeticOverflow
	}
	newProcessed, err := checkedAddU64(gw.TotalProcessed, sub.Amount)
	if err != nil {
		return nil, err
	}

	// Stage the balance mutations on clones; nothing is persisted until
	// every leg has been applied.
	source.Balance.Sub(source.Balance, amount)
	source.DelegatedAmount.Sub(source.DelegatedAmount, amount)
	staged := map[[20]byte]*types.TokenAccount{up.TokenAccount: source}
	credit := func(holder [20]byte, value uint64) {
		if value == 0 {
			return
		}
		addr := TokenAccountAddress(holder, mint)
		dest, ok := staged[addr]
		if !ok {
			if existing, found := e.state.TokenAccountGet(addr); found {
				dest = types.EnsureTokenAccount(existing.Clone(), holder, mint)
			} else {
				dest = types.EnsureTokenAccount(nil, holder, mint)
			}
			staged[addr] = dest
		}
		dest.Balance.Add(dest.Balance, new(big.Int).SetUint64(value))
	}
	credit(policy.Recipient, recipientAmount)
	credit(gw.FeeRecipient, gatewayFee)
	credit(cfg.FeeRecipient, protocolFee)
	for addr, account := range staged {
		if err := e.state.TokenAccountPut(addr, account); err != nil {
			return nil, err
		}
	}

	sub.NextPaymentDue = newDue
	policy.TotalPaid = newTotalPaid
	policy.PaymentCount++
	policy.UpdatedAt = now
	if sub.MaxRenewals != nil && policy.PaymentCount >= *sub.MaxRenewals {
		policy.Status = PaymentStatusPaused
	}
	if err := e.state.PolicyPut(policy); err != nil {
		return nil, err
	}
	gw.TotalProcessed = newProcessed
	if err := e.state.GatewayPut(gw); err != nil {
		return nil, err
	}
	up.UpdatedAt = now
	if err := e.state.UserPaymentPut(up); err != nil {
		return nil, err
	}

	e.emit(NewPaymentRecordEvent(policy, sub.Amount, now))
	return &PaymentReceipt{
		Policy:          PolicyAddress(upAddr, policy.PolicyID),
		Gateway:         GatewayAddress(gw.Authority),
		Amount:          sub.Amount,
		GatewayFee:      gatewayFee,
		ProtocolFee:     protocolFee,
		RecipientAmount: recipientAmount,
		RecordID:        policy.PaymentCount,
		Timestamp:       now,
		NextPaymentDue:  newDue,
	}, nil
}

// feeShare computes amount * bps / 10000 with floor division.
func feeShare(amount uint64, bps uint16) (uint64, error) {
	product, err := checkedMulU64(amount, uint64(bps))
	if err != nil {
		return 0, err
	}
	return product / 10_000, nil
}

func checkedMulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a {
		return 0, ErrArithmeticOverflow
	}
	return product, nil
}

func checkedAddU64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}
