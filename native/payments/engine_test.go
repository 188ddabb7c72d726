package payments

import (
	"bytes"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"paygrid/core/events"
	"paygrid/core/types"
)

type policyKey struct {
	userPayment [20]byte
	policyID    uint32
}

type mockState struct {
	config       *ProgramConfig
	gateways     map[[20]byte]*PaymentGateway
	userPayments map[[20]byte]*UserPayment
	policies     map[policyKey]*PaymentPolicy
	accounts     map[[20]byte]*types.TokenAccount
}

func newMockState() *mockState {
	return &mockState{
		gateways:     make(map[[20]byte]*PaymentGateway),
		userPayments: make(map[[20]byte]*UserPayment),
		policies:     make(map[policyKey]*PaymentPolicy),
		accounts:     make(map[[20]byte]*types.TokenAccount),
	}
}

func (m *mockState) PaymentsConfigGet() (*ProgramConfig, bool) {
	if m.config == nil {
		return nil, false
	}
	return m.config.Clone(), true
}

func (m *mockState) PaymentsConfigPut(cfg *ProgramConfig) error {
	m.config = cfg.Clone()
	return nil
}

func (m *mockState) GatewayGet(authority [20]byte) (*PaymentGateway, bool) {
	gw, ok := m.gateways[authority]
	if !ok {
		return nil, false
	}
	return gw.Clone(), true
}

func (m *mockState) GatewayPut(gw *PaymentGateway) error {
	m.gateways[gw.Authority] = gw.Clone()
	return nil
}

func (m *mockState) GatewayDelete(authority [20]byte) error {
	delete(m.gateways, authority)
	return nil
}

func (m *mockState) UserPaymentGet(addr [20]byte) (*UserPayment, bool) {
	up, ok := m.userPayments[addr]
	if !ok {
		return nil, false
	}
	return up.Clone(), true
}

func (m *mockState) UserPaymentPut(up *UserPayment) error {
	m.userPayments[UserPaymentAddress(up.Owner, up.TokenMint)] = up.Clone()
	return nil
}

func (m *mockState) PolicyGet(userPayment [20]byte, policyID uint32) (*PaymentPolicy, bool) {
	policy, ok := m.policies[policyKey{userPayment, policyID}]
	if !ok {
		return nil, false
	}
	return policy.Clone(), true
}

func (m *mockState) PolicyPut(policy *PaymentPolicy) error {
	m.policies[policyKey{policy.UserPayment, policy.PolicyID}] = policy.Clone()
	return nil
}

func (m *mockState) PolicyDelete(userPayment [20]byte, policyID uint32) error {
	delete(m.policies, policyKey{userPayment, policyID})
	return nil
}

func (m *mockState) TokenAccountGet(addr [20]byte) (*types.TokenAccount, bool) {
	account, ok := m.accounts[addr]
	if !ok {
		return nil, false
	}
	return account.Clone(), true
}

func (m *mockState) TokenAccountPut(addr [20]byte, account *types.TokenAccount) error {
	m.accounts[addr] = account.Clone()
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *captureEmitter) last(t *testing.T) *types.Event {
	t.Helper()
	if len(c.events) == 0 {
		t.Fatalf("no events emitted")
	}
	typed, ok := c.events[len(c.events)-1].(interface{ Event() *types.Event })
	if !ok {
		t.Fatalf("event does not expose payload")
	}
	return typed.Event()
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	adminAddr        = testAddr(0x01)
	protocolFeeAddr  = testAddr(0x02)
	authorityAddr    = testAddr(0x03)
	gatewayFeeAddr   = testAddr(0x04)
	ownerAddr        = testAddr(0x05)
	recipientAddr    = testAddr(0x06)
	mintAddr         = testAddr(0x07)
	gatewaySignerKey = testAddr(0x08)
	strangerAddr     = testAddr(0x09)
)

type testEnv struct {
	engine  *Engine
	state   *mockState
	emitter *captureEmitter
	now     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{state: newMockState(), emitter: &captureEmitter{}, now: 1_700_000_000}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetNowFunc(func() int64 { return env.now })

	if _, err := env.engine.InitializeConfig(adminAddr, protocolFeeAddr, 250, 5); err != nil {
		t.Fatalf("initialize config: %v", err)
	}
	if _, err := env.engine.CreateGateway(adminAddr, authorityAddr, gatewayFeeAddr, 100, "acme", "https://pay.acme.example"); err != nil {
		t.Fatalf("create gateway: %v", err)
	}
	if err := env.engine.ChangeGatewaySigner(authorityAddr, gatewaySignerKey); err != nil {
		t.Fatalf("rotate signer: %v", err)
	}
	if _, err := env.engine.CreateUserPayment(ownerAddr, mintAddr); err != nil {
		t.Fatalf("create user payment: %v", err)
	}
	env.fundOwner(t, 1_000_000, 1_000_000)
	return env
}

// fundOwner seeds the owner's token account with a balance and a delegated
// allowance granted to the payments delegate.
func (env *testEnv) fundOwner(t *testing.T, balance, allowance int64) {
	t.Helper()
	delegate := DelegateAddress()
	account := &types.TokenAccount{
		Owner:           ownerAddr,
		Mint:            mintAddr,
		Balance:         big.NewInt(balance),
		Delegate:        &delegate,
		DelegatedAmount: big.NewInt(allowance),
	}
	if err := env.state.TokenAccountPut(TokenAccountAddress(ownerAddr, mintAddr), account); err != nil {
		t.Fatalf("seed token account: %v", err)
	}
}

func (env *testEnv) createPolicy(t *testing.T, sub Subscription) *PaymentPolicy {
	t.Helper()
	policy, err := env.engine.CreatePolicy(ownerAddr, mintAddr, 0, recipientAddr, authorityAddr,
		PolicyType{Kind: PolicyKindSubscription, Subscription: &sub}, "order-42")
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	return policy
}

func (env *testEnv) balance(addr [20]byte) *big.Int {
	account, ok := env.state.accounts[addr]
	if !ok || account.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(account.Balance)
}

func TestInitializeConfigOnce(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.InitializeConfig(adminAddr, protocolFeeAddr, 100, 3); !errors.Is(err, ErrConfigExists) {
		t.Fatalf("expected ErrConfigExists, got %v", err)
	}
}

func TestInitializeConfigRejectsBadFee(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	if _, err := engine.InitializeConfig(adminAddr, protocolFeeAddr, 10_001, 3); !errors.Is(err, ErrInvalidFeeBps) {
		t.Fatalf("expected ErrInvalidFeeBps, got %v", err)
	}
}

func TestCreateGatewayChecks(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.CreateGateway(strangerAddr, testAddr(0x30), gatewayFeeAddr, 50, "x", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.CreateGateway(adminAddr, testAddr(0x30), gatewayFeeAddr, 10_001, "x", ""); !errors.Is(err, ErrInvalidFeeBps) {
		t.Fatalf("expected ErrInvalidFeeBps, got %v", err)
	}
	if _, err := env.engine.CreateGateway(adminAddr, authorityAddr, gatewayFeeAddr, 50, "dup", ""); !errors.Is(err, ErrGatewayExists) {
		t.Fatalf("expected ErrGatewayExists, got %v", err)
	}
}

func TestCreateGatewaySignerDefaultsToAuthority(t *testing.T) {
	env := newTestEnv(t)
	gw, err := env.engine.CreateGateway(adminAddr, testAddr(0x31), gatewayFeeAddr, 75, "other", "")
	if err != nil {
		t.Fatalf("create gateway: %v", err)
	}
	if gw.Signer != gw.Authority {
		t.Fatalf("signer must default to the authority")
	}
}

func TestGatewaySignerRotationAudit(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.ChangeGatewaySigner(authorityAddr, strangerAddr); err != nil {
		t.Fatalf("rotate signer: %v", err)
	}
	evt := env.emitter.last(t)
	if evt.Type != EventTypeGatewaySignerChanged {
		t.Fatalf("expected signer change event, got %s", evt.Type)
	}
	if evt.Attributes["oldSigner"] == evt.Attributes["newSigner"] {
		t.Fatalf("audit event must carry before and after signers")
	}
}

func TestChangeGatewayFeeRecipientAudit(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.ChangeGatewayFeeRecipient(authorityAddr, strangerAddr); err != nil {
		t.Fatalf("change fee recipient: %v", err)
	}
	evt := env.emitter.last(t)
	if evt.Type != EventTypeGatewayFeeRecipientChanged {
		t.Fatalf("expected fee recipient event, got %s", evt.Type)
	}
}

func TestDeleteGatewayRequiresInactive(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.DeleteGateway(adminAddr, authorityAddr); !errors.Is(err, ErrGatewayActive) {
		t.Fatalf("expected ErrGatewayActive, got %v", err)
	}
	if err := env.engine.SetGatewayActive(adminAddr, authorityAddr, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := env.engine.DeleteGateway(adminAddr, authorityAddr); err != nil {
		t.Fatalf("delete gateway: %v", err)
	}
	if _, ok := env.state.gateways[authorityAddr]; ok {
		t.Fatalf("gateway record must be removed")
	}
}

func TestCreateUserPaymentOnce(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.CreateUserPayment(ownerAddr, mintAddr); !errors.Is(err, ErrUserPaymentExists) {
		t.Fatalf("expected ErrUserPaymentExists, got %v", err)
	}
}

func TestCreatePolicySnapsPastDueDate(t *testing.T) {
	env := newTestEnv(t)
	policy := env.createPolicy(t, Subscription{
		Amount:         10_000,
		Frequency:      PaymentFrequency{Kind: FrequencyMonthly},
		NextPaymentDue: env.now - 86_400,
	})
	if got := policy.PolicyType.Subscription.NextPaymentDue; got != env.now {
		t.Fatalf("past due date must snap to now: got %d, want %d", got, env.now)
	}
}

func TestCreatePolicyKeepsFutureDueDate(t *testing.T) {
	env := newTestEnv(t)
	future := env.now + 3_600
	policy := env.createPolicy(t, Subscription{
		Amount:         10_000,
		Frequency:      PaymentFrequency{Kind: FrequencyDaily},
		NextPaymentDue: future,
	})
	if got := policy.PolicyType.Subscription.NextPaymentDue; got != future {
		t.Fatalf("future due date must be preserved: got %d, want %d", got, future)
	}
}

func TestCreatePolicyDerivesID(t *testing.T) {
	env := newTestEnv(t)
	first := env.createPolicy(t, Subscription{Amount: 1, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
	second := env.createPolicy(t, Subscription{Amount: 1, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
	if first.PolicyID != 1 || second.PolicyID != 2 {
		t.Fatalf("derived ids must increment: got %d, %d", first.PolicyID, second.PolicyID)
	}
}

func TestCreatePolicyEnforcesCap(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.createPolicy(t, Subscription{Amount: 1, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
	}
	_, err := env.engine.CreatePolicy(ownerAddr, mintAddr, 0, recipientAddr, authorityAddr,
		subscriptionPolicy(1, PaymentFrequency{Kind: FrequencyDaily}, nil), "")
	if !errors.Is(err, ErrMaxPoliciesReached) {
		t.Fatalf("expected ErrMaxPoliciesReached, got %v", err)
	}

	// Deleting a policy frees a slot.
	if err := env.engine.DeletePolicy(ownerAddr, mintAddr, 1); err != nil {
		t.Fatalf("delete policy: %v", err)
	}
	if _, err := env.engine.CreatePolicy(ownerAddr, mintAddr, 9, recipientAddr, authorityAddr,
		subscriptionPolicy(1, PaymentFrequency{Kind: FrequencyDaily}, nil), ""); err != nil {
		t.Fatalf("re-create after delete: %v", err)
	}
}

func TestCreatePolicyRequiresActiveGateway(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetGatewayActive(adminAddr, authorityAddr, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := env.engine.CreatePolicy(ownerAddr, mintAddr, 0, recipientAddr, authorityAddr,
		subscriptionPolicy(1, PaymentFrequency{Kind: FrequencyDaily}, nil), "")
	if !errors.Is(err, ErrGatewayInactive) {
		t.Fatalf("expected ErrGatewayInactive, got %v", err)
	}
}

func TestExecutePaymentSplitsFees(t *testing.T) {
	env := newTestEnv(t)
	policy := env.createPolicy(t, Subscription{
		Amount:         10_000,
		Frequency:      PaymentFrequency{Kind: FrequencyDaily},
		NextPaymentDue: env.now,
	})

	receipt, err := env.engine.ExecutePayment(gatewaySignerKey, ownerAddr, mintAddr, policy.PolicyID)
	if err != nil {
		t.Fatalf("execute payment: %v", err)
	}
	if receipt.GatewayFee != 100 || receipt.ProtocolFee != 250 || receipt.RecipientAmount != 9_650 {
		t.Fatalf("unexpected split: %+v", receipt)
	}
	if receipt.GatewayFee+receipt.ProtocolFee+receipt.RecipientAmount != receipt.Amount {
		t.Fatalf("split must be exact")
	}

	if got := env.balance(TokenAccountAddress(recipientAddr, mintAddr)); got.Cmp(big.NewInt(9_650)) != 0 {
		t.Fatalf("recipient balance %s", got)
	}
	if got := env.balance(TokenAccountAddress(gatewayFeeAddr, mintAddr)); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("gateway fee balance %s", got)
	}
	if got := env.balance(TokenAccountAddress(protocolFeeAddr, mintAddr)); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("protocol fee balance %s", got)
	}
	source := env.state.accounts[TokenAccountAddress(ownerAddr, mintAddr)]
	if source.Balance.Cmp(big.NewInt(990_000)) != 0 {
		t.Fatalf("payer balance %s", source.Balance)
	}
	if source.DelegatedAmount.Cmp(big.NewInt(990_000)) != 0 {
		t.Fatalf("allowance must be drawn down: %s", source.DelegatedAmount)
	}

	stored, _ := env.state.PolicyGet(policy.UserPayment, policy.PolicyID)
	if stored.PaymentCount != 1 || stored.TotalPaid != 10_000 {
		t.Fatalf("counters not advanced: %+v", stored)
	}
	if got := stored.PolicyType.Subscription.NextPaymentDue; got != env.now+86_400 {
		t.Fatalf("next due %d, want %d", got, env.now+86_400)
	}
	gw, _ := env.state.GatewayGet(authorityAddr)
	if gw.TotalProcessed != 10_000 {
		t.Fatalf("gateway total processed %d", gw.TotalProcessed)
	}

	evt := env.emitter.last(t)
	if evt.Type != EventTypePaymentRecord {
		t.Fatalf("expected payment record event, got %s", evt.Type)
	}
	if evt.Attributes["recordId"] != "1" {
		t.Fatalf("record id must equal the new payment count: %v", evt.Attributes)
	}
}

func TestExecutePaymentZeroFeeLegsSkipped(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.UpdateConfig(adminAddr, protocolFeeAddr, 0, 5); err != nil {
		t.Fatalf("update config: %v", err)
	}
	gw, _ := env.state.GatewayGet(authorityAddr)
	gw.GatewayFeeBps = 0
	if err := env.state.GatewayPut(gw); err != nil {
		t.Fatalf("store gateway: %v", err)
	}
	policy := env.createPolicy(t, Subscription{Amount: 10_000, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
	if _, err := env.engine.ExecutePayment(gatewaySignerKey, ownerAddr, mintAddr, policy.PolicyID); err != nil {
		t.Fatalf("execute payment: %v", err)
	}
	if _, ok := env.state.accounts[TokenAccountAddress(gatewayFeeAddr, mintAddr)]; ok {
		t.Fatalf("zero-value gateway fee leg must not create an account")
	}
	if _, ok := env.state.accounts[TokenAccountAddress(protocolFeeAddr, mintAddr)]; ok {
		t.Fatalf("zero-value protocol fee leg must not create an account")
	}
	if got := env.balance(TokenAccountAddress(recipientAddr, mintAddr)); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("recipient must receive the full amount, got %s", got)
	}
}

func TestExecutePaymentOwnerMayTrigger(t *testing.T) {
	env := newTestEnv(t)
	policy := env.createPolicy(t, Subscription{Amount: 100, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
	if _, err := env.engine.ExecutePayment(ownerAddr, ownerAddr, mintAddr, policy.PolicyID); err != nil {
		t.Fatalf("owner-triggered charge: %v", err)
	}
}

func (env *testEnv) snapshot() map[string]interface{} {
	return map[string]interface{}{
		"config":       env.state.config.Clone(),
		"gateways":     cloneGateways(env.state.gateways),
		"userPayments": cloneUserPayments(env.state.userPayments),
		"policies":     clonePolicies(env.state.policies),
		"accounts":     cloneAccounts(env.state.accounts),
	}
}

func cloneGateways(in map[[20]byte]*PaymentGateway) map[[20]byte]*PaymentGateway {
	out := make(map[[20]byte]*PaymentGateway, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func cloneUserPayments(in map[[20]byte]*UserPayment) map[[20]byte]*UserPayment {
	out := make(map[[20]byte]*UserPayment, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func clonePolicies(in map[policyKey]*PaymentPolicy) map[policyKey]*PaymentPolicy {
	out := make(map[policyKey]*PaymentPolicy, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func cloneAccounts(in map[[20]byte]*types.TokenAccount) map[[20]byte]*types.TokenAccount {
	out := make(map[[20]byte]*types.TokenAccount, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func TestExecutePaymentFailuresLeaveStateUntouched(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(t *testing.T, env *testEnv, policyID uint32)
		caller  [20]byte
		want    error
	}{
		{
			name: "program_paused",
			prepare: func(t *testing.T, env *testEnv, _ uint32) {
				if err := env.engine.SetPause(adminAddr, true); err != nil {
					t.Fatalf("pause: %v", err)
				}
			},
			caller: gatewaySignerKey,
			want:   ErrProgramPaused,
		},
		{
			name: "gateway_inactive",
			prepare: func(t *testing.T, env *testEnv, _ uint32) {
				if err := env.engine.SetGatewayActive(adminAddr, authorityAddr, false); err != nil {
					t.Fatalf("deactivate: %v", err)
				}
			},
			caller: gatewaySignerKey,
			want:   ErrGatewayInactive,
		},
		{
			name:    "unauthorized_caller",
			prepare: func(*testing.T, *testEnv, uint32) {},
			caller:  strangerAddr,
			want:    ErrUnauthorized,
		},
		{
			name: "user_payment_inactive",
			prepare: func(t *testing.T, env *testEnv, _ uint32) {
				addr := UserPaymentAddress(ownerAddr, mintAddr)
				up := env.state.userPayments[addr]
				up.IsActive = false
			},
			caller: gatewaySignerKey,
			want:   ErrUserPaymentInactive,
		},
		{
			name: "policy_paused",
			prepare: func(t *testing.T, env *testEnv, policyID uint32) {
				if err := env.engine.ChangePolicyStatus(ownerAddr, mintAddr, policyID, PaymentStatusPaused); err != nil {
					t.Fatalf("pause policy: %v", err)
				}
			},
			caller: gatewaySignerKey,
			want:   ErrPolicyPaused,
		},
		{
			name: "no_delegate",
			prepare: func(t *testing.T, env *testEnv, _ uint32) {
				addr := TokenAccountAddress(ownerAddr, mintAddr)
				account := env.state.accounts[addr]
				account.Delegate = nil
			},
			caller: gatewaySignerKey,
			want:   ErrNoDelegateSet,
		},
		{
			name: "insufficient_allowance",
			prepare: func(t *testing.T, env *testEnv, _ uint32) {
				env.fundOwner(t, 1_000_000, 5)
			},
			caller: gatewaySignerKey,
			want:   ErrInsufficientDelegatedAmount,
		},
		{
			name: "not_due",
			prepare: func(t *testing.T, env *testEnv, _ uint32) {
				env.now -= 3_600
			},
			caller: gatewaySignerKey,
			want:   ErrPaymentNotDue,
		},
		{
			name: "insufficient_balance",
			prepare: func(t *testing.T, env *testEnv, _ uint32) {
				env.fundOwner(t, 5, 1_000_000)
			},
			caller: gatewaySignerKey,
			want:   ErrInsufficientBalance,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			policy := env.createPolicy(t, Subscription{Amount: 10_000, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
			tc.prepare(t, env, policy.PolicyID)

			before := env.snapshot()
			_, err := env.engine.ExecutePayment(tc.caller, ownerAddr, mintAddr, policy.PolicyID)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if !reflect.DeepEqual(before, env.snapshot()) {
				t.Fatalf("failed charge must not mutate state")
			}
		})
	}
}

func TestExecutePaymentRenewalExhaustion(t *testing.T) {
	env := newTestEnv(t)
	renewals := uint32(3)
	policy := env.createPolicy(t, Subscription{
		Amount:         100,
		AutoRenew:      true,
		MaxRenewals:    &renewals,
		Frequency:      PaymentFrequency{Kind: FrequencyDaily},
		NextPaymentDue: env.now,
	})

	for i := 0; i < 3; i++ {
		if _, err := env.engine.ExecutePayment(gatewaySignerKey, ownerAddr, mintAddr, policy.PolicyID); err != nil {
			t.Fatalf("charge %d: %v", i+1, err)
		}
		env.now += 86_400
	}
	stored, _ := env.state.PolicyGet(policy.UserPayment, policy.PolicyID)
	if stored.Status != PaymentStatusPaused {
		t.Fatalf("policy must auto-pause after the final renewal: %v", stored.Status)
	}
	if _, err := env.engine.ExecutePayment(gatewaySignerKey, ownerAddr, mintAddr, policy.PolicyID); !errors.Is(err, ErrPolicyPaused) {
		t.Fatalf("expected ErrPolicyPaused, got %v", err)
	}

	// Exhaustion never auto-resumes, but the owner may explicitly resume.
	if err := env.engine.ChangePolicyStatus(ownerAddr, mintAddr, policy.PolicyID, PaymentStatusActive); err != nil {
		t.Fatalf("explicit resume: %v", err)
	}
}

func TestExecutePaymentScheduleAnchoredAtPreviousDue(t *testing.T) {
	env := newTestEnv(t)
	due := env.now - 10*86_400
	policy := env.createPolicy(t, Subscription{Amount: 100, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: due})
	// Creation snapped the due date to now; move now forward so the stored
	// due date sits in the past at charge time.
	env.now += 10 * 86_400
	if _, err := env.engine.ExecutePayment(gatewaySignerKey, ownerAddr, mintAddr, policy.PolicyID); err != nil {
		t.Fatalf("execute payment: %v", err)
	}
	stored, _ := env.state.PolicyGet(policy.UserPayment, policy.PolicyID)
	want := env.now + 86_400
	if got := stored.PolicyType.Subscription.NextPaymentDue; got != want {
		t.Fatalf("catch-up due date %d, want %d", got, want)
	}
}

func TestFeeShareExactness(t *testing.T) {
	amounts := []uint64{0, 1, 9, 10_000, 123_456_789}
	bpsPairs := [][2]uint16{{0, 0}, {1, 0}, {9_999, 1}, {2_500, 7_500}, {10_000, 0}, {333, 667}}
	for _, amount := range amounts {
		for _, pair := range bpsPairs {
			gatewayFee, err := feeShare(amount, pair[0])
			if err != nil {
				t.Fatalf("gateway share: %v", err)
			}
			protocolFee, err := feeShare(amount, pair[1])
			if err != nil {
				t.Fatalf("protocol share: %v", err)
			}
			recipient, err := checkedSubU64(amount, gatewayFee)
			if err == nil {
				recipient, err = checkedSubU64(recipient, protocolFee)
			}
			if err != nil {
				t.Fatalf("amount %d bps %v: unexpected underflow", amount, pair)
			}
			if recipient+gatewayFee+protocolFee != amount {
				t.Fatalf("split not exact for amount %d bps %v", amount, pair)
			}
		}
	}
}

func TestFeeSplitUnderflowFails(t *testing.T) {
	// Combined bps above 10000 is not validated at configuration time; the
	// settlement fails on underflow instead of clamping.
	env := newTestEnv(t)
	if err := env.engine.UpdateConfig(adminAddr, protocolFeeAddr, 9_000, 5); err != nil {
		t.Fatalf("update config: %v", err)
	}
	gw, _ := env.state.GatewayGet(authorityAddr)
	gw.GatewayFeeBps = 9_000
	if err := env.state.GatewayPut(gw); err != nil {
		t.Fatalf("store gateway: %v", err)
	}
	policy := env.createPolicy(t, Subscription{Amount: 10_000, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
	before := env.snapshot()
	if _, err := env.engine.ExecutePayment(gatewaySignerKey, ownerAddr, mintAddr, policy.PolicyID); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if !reflect.DeepEqual(before, env.snapshot()) {
		t.Fatalf("underflow must not mutate state")
	}
}

func TestChangePolicyStatusExplicitTransitions(t *testing.T) {
	env := newTestEnv(t)
	policy := env.createPolicy(t, Subscription{Amount: 100, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})

	if err := env.engine.ChangePolicyStatus(ownerAddr, mintAddr, policy.PolicyID, PaymentStatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	evt := env.emitter.last(t)
	if evt.Attributes["oldStatus"] != "active" || evt.Attributes["newStatus"] != "paused" {
		t.Fatalf("status event must carry old and new status: %v", evt.Attributes)
	}
	if err := env.engine.ChangePolicyStatus(ownerAddr, mintAddr, policy.PolicyID, PaymentStatusActive); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := env.engine.ChangePolicyStatus(strangerAddr, mintAddr, policy.PolicyID, PaymentStatusPaused); !errors.Is(err, ErrUserPaymentNotFound) {
		t.Fatalf("stranger has no aggregate: got %v", err)
	}
	if err := env.engine.ChangePolicyStatus(ownerAddr, mintAddr, policy.PolicyID, PaymentStatus(9)); !errors.Is(err, ErrInvalidPolicyStatusTransition) {
		t.Fatalf("expected ErrInvalidPolicyStatusTransition, got %v", err)
	}
}

func TestDeletePolicyDecrementsCount(t *testing.T) {
	env := newTestEnv(t)
	policy := env.createPolicy(t, Subscription{Amount: 100, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
	up, _ := env.state.UserPaymentGet(policy.UserPayment)
	if up.ActivePoliciesCount != 1 {
		t.Fatalf("expected one active policy")
	}
	if err := env.engine.DeletePolicy(ownerAddr, mintAddr, policy.PolicyID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	up, _ = env.state.UserPaymentGet(policy.UserPayment)
	if up.ActivePoliciesCount != 0 {
		t.Fatalf("count must decrement")
	}
	if err := env.engine.DeletePolicy(ownerAddr, mintAddr, policy.PolicyID); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestOperationsGuardedByPause(t *testing.T) {
	env := newTestEnv(t)
	policy := env.createPolicy(t, Subscription{Amount: 100, Frequency: PaymentFrequency{Kind: FrequencyDaily}, NextPaymentDue: env.now})
	if err := env.engine.SetPause(adminAddr, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := env.engine.ChangePolicyStatus(ownerAddr, mintAddr, policy.PolicyID, PaymentStatusPaused); !errors.Is(err, ErrProgramPaused) {
		t.Fatalf("status change: got %v", err)
	}
	if err := env.engine.DeletePolicy(ownerAddr, mintAddr, policy.PolicyID); !errors.Is(err, ErrProgramPaused) {
		t.Fatalf("delete: got %v", err)
	}
	if err := env.engine.ChangeGatewaySigner(authorityAddr, strangerAddr); !errors.Is(err, ErrProgramPaused) {
		t.Fatalf("signer change: got %v", err)
	}
	if err := env.engine.SetPause(adminAddr, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := env.engine.ChangePolicyStatus(ownerAddr, mintAddr, policy.PolicyID, PaymentStatusPaused); err != nil {
		t.Fatalf("status change after unpause: %v", err)
	}
}
