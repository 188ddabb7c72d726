package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"paygrid/core/events"
	"paygrid/core/state"
	"paygrid/core/types"
	"paygrid/native/payments"
	"paygrid/storage"
)

// Node is the host surface of the settlement service. It owns the record
// store, serializes every operation behind a single mutex, and fans emitted
// payment events out to stream subscribers.
type Node struct {
	db      storage.Database
	manager *state.Manager
	stateMu sync.Mutex
	nowFn   func() int64

	streamMu      sync.Mutex
	streamSeq     uint64
	streamNextID  uint64
	streamSubs    map[uint64]chan PaymentEventUpdate
	streamHistory []PaymentEventUpdate
}

// TokenAllocation seeds a holder balance at first start.
type TokenAllocation struct {
	Owner   [20]byte
	Mint    [20]byte
	Balance *big.Int
}

func NewNode(db storage.Database) *Node {
	return &Node{
		db:      db,
		manager: state.NewManager(db),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock used by settlement operations.
func (n *Node) SetNowFunc(now func() int64) {
	if now != nil {
		n.nowFn = now
	}
}

type paymentEventEmitter struct {
	node *Node
}

type eventWithPayload interface {
	Event() *types.Event
}

func (e paymentEventEmitter) Emit(evt events.Event) {
	if e.node == nil || evt == nil {
		return
	}
	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	e.node.publishPaymentEvent(event)
}

func (n *Node) newPaymentsEngine() *payments.Engine {
	engine := payments.NewEngine()
	engine.SetState(n.manager)
	engine.SetEmitter(paymentEventEmitter{node: n})
	engine.SetNowFunc(n.nowFn)
	return engine
}

// Bootstrap applies the genesis payments configuration on first start. A node
// that already carries a config ignores the supplied parameters so restarts
// stay idempotent.
func (n *Node) Bootstrap(admin, feeRecipient [20]byte, protocolFeeBps uint16, maxPoliciesPerUser uint32, allocs []TokenAllocation) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if _, ok := n.manager.PaymentsConfigGet(); !ok {
		engine := n.newPaymentsEngine()
		if _, err := engine.InitializeConfig(admin, feeRecipient, protocolFeeBps, maxPoliciesPerUser); err != nil {
			return fmt.Errorf("bootstrap config: %w", err)
		}
		for _, alloc := range allocs {
			if alloc.Balance == nil || alloc.Balance.Sign() <= 0 {
				continue
			}
			if err := n.creditTokenAccount(alloc.Owner, alloc.Mint, alloc.Balance); err != nil {
				return fmt.Errorf("bootstrap allocation: %w", err)
			}
		}
	}
	return nil
}

func (n *Node) creditTokenAccount(owner, mint [20]byte, amount *big.Int) error {
	addr := payments.TokenAccountAddress(owner, mint)
	account, _ := n.manager.TokenAccountGet(addr)
	account = types.EnsureTokenAccount(account, owner, mint)
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return n.manager.TokenAccountPut(addr, account)
}

// --- Configuration and pause ---

func (n *Node) PaymentsInitializeConfig(admin, feeRecipient [20]byte, protocolFeeBps uint16, maxPoliciesPerUser uint32) (*payments.ProgramConfig, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().InitializeConfig(admin, feeRecipient, protocolFeeBps, maxPoliciesPerUser)
}

func (n *Node) PaymentsSetPause(caller [20]byte, paused bool) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().SetPause(caller, paused)
}

func (n *Node) PaymentsUpdateConfig(caller, feeRecipient [20]byte, protocolFeeBps uint16, maxPoliciesPerUser uint32) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().UpdateConfig(caller, feeRecipient, protocolFeeBps, maxPoliciesPerUser)
}

func (n *Node) PaymentsConfig() (*payments.ProgramConfig, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	cfg, ok := n.manager.PaymentsConfigGet()
	if !ok {
		return nil, payments.ErrConfigNotFound
	}
	return cfg, nil
}

// --- Gateways ---

func (n *Node) PaymentsCreateGateway(caller, authority, feeRecipient [20]byte, gatewayFeeBps uint16, name, url string) (*payments.PaymentGateway, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().CreateGateway(caller, authority, feeRecipient, gatewayFeeBps, name, url)
}

func (n *Node) PaymentsSetGatewayActive(caller, authority [20]byte, active bool) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().SetGatewayActive(caller, authority, active)
}

func (n *Node) PaymentsDeleteGateway(caller, authority [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().DeleteGateway(caller, authority)
}

func (n *Node) PaymentsChangeGatewaySigner(caller, newSigner [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().ChangeGatewaySigner(caller, newSigner)
}

func (n *Node) PaymentsChangeGatewayFeeRecipient(caller, newRecipient [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().ChangeGatewayFeeRecipient(caller, newRecipient)
}

func (n *Node) PaymentsGateway(authority [20]byte) (*payments.PaymentGateway, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	gw, ok := n.manager.GatewayGet(authority)
	if !ok {
		return nil, payments.ErrGatewayNotFound
	}
	return gw, nil
}

// --- User payments and policies ---

func (n *Node) PaymentsCreateUserPayment(owner, mint [20]byte) (*payments.UserPayment, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().CreateUserPayment(owner, mint)
}

func (n *Node) PaymentsUserPayment(owner, mint [20]byte) (*payments.UserPayment, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	up, ok := n.manager.UserPaymentGet(payments.UserPaymentAddress(owner, mint))
	if !ok {
		return nil, payments.ErrUserPaymentNotFound
	}
	return up, nil
}

func (n *Node) PaymentsCreatePolicy(owner, mint [20]byte, policyID uint32, recipient, gatewayAuthority [20]byte, policyType payments.PolicyType, memo string) (*payments.PaymentPolicy, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().CreatePolicy(owner, mint, policyID, recipient, gatewayAuthority, policyType, memo)
}

func (n *Node) PaymentsChangePolicyStatus(caller, mint [20]byte, policyID uint32, newStatus payments.PaymentStatus) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().ChangePolicyStatus(caller, mint, policyID, newStatus)
}

func (n *Node) PaymentsDeletePolicy(caller, mint [20]byte, policyID uint32) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().DeletePolicy(caller, mint, policyID)
}

func (n *Node) PaymentsPolicy(owner, mint [20]byte, policyID uint32) (*payments.PaymentPolicy, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	userPayment := payments.UserPaymentAddress(owner, mint)
	policy, ok := n.manager.PolicyGet(userPayment, policyID)
	if !ok {
		return nil, payments.ErrPolicyNotFound
	}
	return policy, nil
}

func (n *Node) PaymentsExecutePayment(caller, owner, mint [20]byte, policyID uint32) (*payments.PaymentReceipt, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newPaymentsEngine().ExecutePayment(caller, owner, mint, policyID)
}

// --- Token ledger ---

var errInvalidTokenAmount = errors.New("token: amount must be positive")

// TokenFund credits a holder balance. Admin-gated: minting spendable funds is
// an operator action, everything else moves value through settlements.
func (n *Node) TokenFund(caller, owner, mint [20]byte, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	cfg, ok := n.manager.PaymentsConfigGet()
	if !ok {
		return payments.ErrConfigNotFound
	}
	if caller != cfg.Admin {
		return payments.ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidTokenAmount
	}
	return n.creditTokenAccount(owner, mint, amount)
}

// TokenApprove grants the settlement delegate a spending allowance over the
// holder's balance. The allowance is absolute, not additive.
func (n *Node) TokenApprove(owner, mint [20]byte, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidTokenAmount
	}
	addr := payments.TokenAccountAddress(owner, mint)
	account, _ := n.manager.TokenAccountGet(addr)
	account = types.EnsureTokenAccount(account, owner, mint)
	delegate := payments.DelegateAddress()
	account.Delegate = &delegate
	account.DelegatedAmount = new(big.Int).Set(amount)
	return n.manager.TokenAccountPut(addr, account)
}

// TokenRevoke clears the settlement delegate and its remaining allowance.
func (n *Node) TokenRevoke(owner, mint [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	addr := payments.TokenAccountAddress(owner, mint)
	account, ok := n.manager.TokenAccountGet(addr)
	if !ok {
		return payments.ErrTokenAccountNotFound
	}
	account.Delegate = nil
	account.DelegatedAmount = big.NewInt(0)
	return n.manager.TokenAccountPut(addr, account)
}

func (n *Node) TokenAccount(owner, mint [20]byte) (*types.TokenAccount, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	account, ok := n.manager.TokenAccountGet(payments.TokenAccountAddress(owner, mint))
	if !ok {
		return nil, payments.ErrTokenAccountNotFound
	}
	return account, nil
}
