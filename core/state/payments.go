package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"paygrid/core/types"
	"paygrid/native/payments"
)

var (
	configRecordPrefix       = []byte("payments/config")
	gatewayRecordPrefix      = []byte("payments/gateway/")
	userPaymentRecordPrefix  = []byte("payments/user/")
	policyRecordPrefix       = []byte("payments/policy/")
	tokenAccountRecordPrefix = []byte("payments/token-account/")
)

func configStorageKey() []byte {
	return ethcrypto.Keccak256(configRecordPrefix)
}

func gatewayStorageKey(authority [20]byte) []byte {
	buf := make([]byte, len(gatewayRecordPrefix)+len(authority))
	copy(buf, gatewayRecordPrefix)
	copy(buf[len(gatewayRecordPrefix):], authority[:])
	return ethcrypto.Keccak256(buf)
}

func userPaymentStorageKey(addr [20]byte) []byte {
	buf := make([]byte, len(userPaymentRecordPrefix)+len(addr))
	copy(buf, userPaymentRecordPrefix)
	copy(buf[len(userPaymentRecordPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func policyStorageKey(userPayment [20]byte, policyID uint32) []byte {
	buf := make([]byte, len(policyRecordPrefix)+len(userPayment)+4)
	copy(buf, policyRecordPrefix)
	copy(buf[len(policyRecordPrefix):], userPayment[:])
	binary.LittleEndian.PutUint32(buf[len(policyRecordPrefix)+len(userPayment):], policyID)
	return ethcrypto.Keccak256(buf)
}

func tokenAccountStorageKey(addr [20]byte) []byte {
	buf := make([]byte, len(tokenAccountRecordPrefix)+len(addr))
	copy(buf, tokenAccountRecordPrefix)
	copy(buf[len(tokenAccountRecordPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

// RLP carries unsigned integers only, so Unix timestamps travel as big.Ints
// in the stored record shapes.

type storedConfig struct {
	Admin              [20]byte
	FeeRecipient       [20]byte
	ProtocolFeeBps     uint16
	MaxPoliciesPerUser uint32
	EmergencyPause     bool
}

type storedGateway struct {
	Authority      [20]byte
	FeeRecipient   [20]byte
	GatewayFeeBps  uint16
	IsActive       bool
	TotalProcessed uint64
	Signer         [20]byte
	Name           string
	URL            string
	CreatedAt      *big.Int
}

type storedUserPayment struct {
	Owner               [20]byte
	TokenAccount        [20]byte
	TokenMint           [20]byte
	ActivePoliciesCount uint32
	IsActive            bool
	CreatedAt           *big.Int
	UpdatedAt           *big.Int
}

type storedPolicy struct {
	UserPayment  [20]byte
	Recipient    [20]byte
	Gateway      [20]byte
	PolicyType   []byte
	Status       uint8
	Memo         string
	TotalPaid    uint64
	PaymentCount uint32
	PolicyID     uint32
	CreatedAt    *big.Int
	UpdatedAt    *big.Int
}

type storedTokenAccount struct {
	Owner           [20]byte
	Mint            [20]byte
	Balance         *big.Int
	HasDelegate     bool
	Delegate        [20]byte
	DelegatedAmount *big.Int
}

// PaymentsConfigGet loads the singleton program config.
func (m *Manager) PaymentsConfigGet() (*payments.ProgramConfig, bool) {
	raw, ok := m.get(configStorageKey())
	if !ok {
		return nil, false
	}
	var stored storedConfig
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	return &payments.ProgramConfig{
		Admin:              stored.Admin,
		FeeRecipient:       stored.FeeRecipient,
		ProtocolFeeBps:     stored.ProtocolFeeBps,
		MaxPoliciesPerUser: stored.MaxPoliciesPerUser,
		EmergencyPause:     stored.EmergencyPause,
	}, true
}

// PaymentsConfigPut persists the singleton program config.
func (m *Manager) PaymentsConfigPut(cfg *payments.ProgramConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil program config")
	}
	raw, err := rlp.EncodeToBytes(&storedConfig{
		Admin:              cfg.Admin,
		FeeRecipient:       cfg.FeeRecipient,
		ProtocolFeeBps:     cfg.ProtocolFeeBps,
		MaxPoliciesPerUser: cfg.MaxPoliciesPerUser,
		EmergencyPause:     cfg.EmergencyPause,
	})
	if err != nil {
		return err
	}
	return m.put(configStorageKey(), raw)
}

// GatewayGet loads a gateway record by its owning authority.
func (m *Manager) GatewayGet(authority [20]byte) (*payments.PaymentGateway, bool) {
	raw, ok := m.get(gatewayStorageKey(authority))
	if !ok {
		return nil, false
	}
	var stored storedGateway
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	gw := &payments.PaymentGateway{
		Authority:      stored.Authority,
		FeeRecipient:   stored.FeeRecipient,
		GatewayFeeBps:  stored.GatewayFeeBps,
		IsActive:       stored.IsActive,
		TotalProcessed: stored.TotalProcessed,
		Signer:         stored.Signer,
		Name:           stored.Name,
		URL:            stored.URL,
	}
	if stored.CreatedAt != nil {
		gw.CreatedAt = stored.CreatedAt.Int64()
	}
	return gw, true
}

// GatewayPut persists a gateway record.
func (m *Manager) GatewayPut(gw *payments.PaymentGateway) error {
	if gw == nil {
		return fmt.Errorf("state: nil gateway")
	}
	raw, err := rlp.EncodeToBytes(&storedGateway{
		Authority:      gw.Authority,
		FeeRecipient:   gw.FeeRecipient,
		GatewayFeeBps:  gw.GatewayFeeBps,
		IsActive:       gw.IsActive,
		TotalProcessed: gw.TotalProcessed,
		Signer:         gw.Signer,
		Name:           gw.Name,
		URL:            gw.URL,
		CreatedAt:      big.NewInt(gw.CreatedAt),
	})
	if err != nil {
		return err
	}
	return m.put(gatewayStorageKey(gw.Authority), raw)
}

// GatewayDelete removes a gateway record.
func (m *Manager) GatewayDelete(authority [20]byte) error {
	return m.delete(gatewayStorageKey(authority))
}

// UserPaymentGet loads an (owner, mint) aggregate by its record address.
func (m *Manager) UserPaymentGet(addr [20]byte) (*payments.UserPayment, bool) {
	raw, ok := m.get(userPaymentStorageKey(addr))
	if !ok {
		return nil, false
	}
	var stored storedUserPayment
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	up := &payments.UserPayment{
		Owner:               stored.Owner,
		TokenAccount:        stored.TokenAccount,
		TokenMint:           stored.TokenMint,
		ActivePoliciesCount: stored.ActivePoliciesCount,
		IsActive:            stored.IsActive,
	}
	if stored.CreatedAt != nil {
		up.CreatedAt = stored.CreatedAt.Int64()
	}
	if stored.UpdatedAt != nil {
		up.UpdatedAt = stored.UpdatedAt.Int64()
	}
	return up, true
}

// UserPaymentPut persists an (owner, mint) aggregate under its derived
// record address.
func (m *Manager) UserPaymentPut(up *payments.UserPayment) error {
	if up == nil {
		return fmt.Errorf("state: nil user payment")
	}
	raw, err := rlp.EncodeToBytes(&storedUserPayment{
		Owner:               up.Owner,
		TokenAccount:        up.TokenAccount,
		TokenMint:           up.TokenMint,
		ActivePoliciesCount: up.ActivePoliciesCount,
		IsActive:            up.IsActive,
		CreatedAt:           big.NewInt(up.CreatedAt),
		UpdatedAt:           big.NewInt(up.UpdatedAt),
	})
	if err != nil {
		return err
	}
	addr := payments.UserPaymentAddress(up.Owner, up.TokenMint)
	return m.put(userPaymentStorageKey(addr), raw)
}

// PolicyGet loads a policy by parent record address and policy id.
func (m *Manager) PolicyGet(userPayment [20]byte, policyID uint32) (*payments.PaymentPolicy, bool) {
	raw, ok := m.get(policyStorageKey(userPayment, policyID))
	if !ok {
		return nil, false
	}
	var stored storedPolicy
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	policyType, err := payments.DecodePolicyType(stored.PolicyType)
	if err != nil {
		return nil, false
	}
	policy := &payments.PaymentPolicy{
		UserPayment:  stored.UserPayment,
		Recipient:    stored.Recipient,
		Gateway:      stored.Gateway,
		PolicyType:   policyType,
		Status:       payments.PaymentStatus(stored.Status),
		Memo:         stored.Memo,
		TotalPaid:    stored.TotalPaid,
		PaymentCount: stored.PaymentCount,
		PolicyID:     stored.PolicyID,
	}
	if !policy.Status.Valid() {
		return nil, false
	}
	if stored.CreatedAt != nil {
		policy.CreatedAt = stored.CreatedAt.Int64()
	}
	if stored.UpdatedAt != nil {
		policy.UpdatedAt = stored.UpdatedAt.Int64()
	}
	return policy, true
}

// PolicyPut persists a policy record. The policy type travels as its
// fixed-width encoded form so the stored layout stays constant across
// variants.
func (m *Manager) PolicyPut(policy *payments.PaymentPolicy) error {
	if policy == nil {
		return fmt.Errorf("state: nil payment policy")
	}
	encodedType, err := payments.EncodePolicyType(policy.PolicyType)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(&storedPolicy{
		UserPayment:  policy.UserPayment,
		Recipient:    policy.Recipient,
		Gateway:      policy.Gateway,
		PolicyType:   encodedType,
		Status:       uint8(policy.Status),
		Memo:         policy.Memo,
		TotalPaid:    policy.TotalPaid,
		PaymentCount: policy.PaymentCount,
		PolicyID:     policy.PolicyID,
		CreatedAt:    big.NewInt(policy.CreatedAt),
		UpdatedAt:    big.NewInt(policy.UpdatedAt),
	})
	if err != nil {
		return err
	}
	return m.put(policyStorageKey(policy.UserPayment, policy.PolicyID), raw)
}

// PolicyDelete removes a policy record.
func (m *Manager) PolicyDelete(userPayment [20]byte, policyID uint32) error {
	return m.delete(policyStorageKey(userPayment, policyID))
}

// TokenAccountGet loads a balance-holding account by its derived address.
func (m *Manager) TokenAccountGet(addr [20]byte) (*types.TokenAccount, bool) {
	raw, ok := m.get(tokenAccountStorageKey(addr))
	if !ok {
		return nil, false
	}
	var stored storedTokenAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	account := &types.TokenAccount{
		Owner:           stored.Owner,
		Mint:            stored.Mint,
		Balance:         big.NewInt(0),
		DelegatedAmount: big.NewInt(0),
	}
	if stored.Balance != nil {
		account.Balance = new(big.Int).Set(stored.Balance)
	}
	if stored.DelegatedAmount != nil {
		account.DelegatedAmount = new(big.Int).Set(stored.DelegatedAmount)
	}
	if stored.HasDelegate {
		delegate := stored.Delegate
		account.Delegate = &delegate
	}
	return account, true
}

// TokenAccountPut persists a balance-holding account.
func (m *Manager) TokenAccountPut(addr [20]byte, account *types.TokenAccount) error {
	if account == nil {
		return fmt.Errorf("state: nil token account")
	}
	stored := &storedTokenAccount{
		Owner:           account.Owner,
		Mint:            account.Mint,
		Balance:         big.NewInt(0),
		DelegatedAmount: big.NewInt(0),
	}
	if account.Balance != nil {
		stored.Balance = new(big.Int).Set(account.Balance)
	}
	if account.DelegatedAmount != nil {
		stored.DelegatedAmount = new(big.Int).Set(account.DelegatedAmount)
	}
	if account.Delegate != nil {
		stored.HasDelegate = true
		stored.Delegate = *account.Delegate
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.put(tokenAccountStorageKey(addr), raw)
}
