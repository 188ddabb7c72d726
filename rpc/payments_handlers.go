package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"paygrid/core/types"
	"paygrid/crypto"
	"paygrid/native/payments"
	"paygrid/observability"
)

const (
	codePaymentsInvalidParams = -32021
	codePaymentsNotFound      = -32022
	codePaymentsForbidden     = -32023
	codePaymentsConflict      = -32024
	codePaymentsInternal      = -32025
)

type initializeConfigParams struct {
	Admin              string `json:"admin"`
	FeeRecipient       string `json:"feeRecipient"`
	ProtocolFeeBps     uint16 `json:"protocolFeeBps"`
	MaxPoliciesPerUser uint32 `json:"maxPoliciesPerUser"`
}

type setPauseParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type updateConfigParams struct {
	Caller             string `json:"caller"`
	FeeRecipient       string `json:"feeRecipient"`
	ProtocolFeeBps     uint16 `json:"protocolFeeBps"`
	MaxPoliciesPerUser uint32 `json:"maxPoliciesPerUser"`
}

type createGatewayParams struct {
	Caller        string `json:"caller"`
	Authority     string `json:"authority"`
	FeeRecipient  string `json:"feeRecipient"`
	GatewayFeeBps uint16 `json:"gatewayFeeBps"`
	Name          string `json:"name"`
	URL           string `json:"url"`
}

type gatewayActiveParams struct {
	Caller    string `json:"caller"`
	Authority string `json:"authority"`
	Active    bool   `json:"active"`
}

type gatewayAuthorityParams struct {
	Caller    string `json:"caller,omitempty"`
	Authority string `json:"authority"`
}

type gatewaySignerParams struct {
	Caller    string `json:"caller"`
	NewSigner string `json:"newSigner"`
}

type gatewayFeeRecipientParams struct {
	Caller       string `json:"caller"`
	NewRecipient string `json:"newRecipient"`
}

type userPaymentParams struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
}

type frequencyParams struct {
	Kind     string `json:"kind"`
	Interval uint64 `json:"interval,omitempty"`
}

type policyTypeParams struct {
	Kind           string          `json:"kind"`
	Amount         string          `json:"amount"`
	AutoRenew      bool            `json:"autoRenew"`
	MaxRenewals    *uint32         `json:"maxRenewals,omitempty"`
	Frequency      frequencyParams `json:"frequency"`
	NextPaymentDue int64           `json:"nextPaymentDue"`
}

type createPolicyParams struct {
	Owner      string           `json:"owner"`
	Mint       string           `json:"mint"`
	PolicyID   uint32           `json:"policyId,omitempty"`
	Recipient  string           `json:"recipient"`
	Gateway    string           `json:"gateway"`
	PolicyType policyTypeParams `json:"policyType"`
	Memo       string           `json:"memo,omitempty"`
}

type policyStatusParams struct {
	Caller   string `json:"caller"`
	Mint     string `json:"mint"`
	PolicyID uint32 `json:"policyId"`
	Status   string `json:"status"`
}

type policyRefParams struct {
	Caller   string `json:"caller,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Mint     string `json:"mint"`
	PolicyID uint32 `json:"policyId"`
}

type executePaymentParams struct {
	Caller   string `json:"caller"`
	Owner    string `json:"owner"`
	Mint     string `json:"mint"`
	PolicyID uint32 `json:"policyId"`
}

type tokenFundParams struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
	Mint   string `json:"mint"`
	Amount string `json:"amount"`
}

type tokenApproveParams struct {
	Owner  string `json:"owner"`
	Mint   string `json:"mint"`
	Amount string `json:"amount"`
}

type tokenRefParams struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
}

type configJSON struct {
	Admin              string `json:"admin"`
	FeeRecipient       string `json:"feeRecipient"`
	ProtocolFeeBps     uint16 `json:"protocolFeeBps"`
	MaxPoliciesPerUser uint32 `json:"maxPoliciesPerUser"`
	EmergencyPause     bool   `json:"emergencyPause"`
}

type gatewayJSON struct {
	Authority      string `json:"authority"`
	FeeRecipient   string `json:"feeRecipient"`
	GatewayFeeBps  uint16 `json:"gatewayFeeBps"`
	IsActive       bool   `json:"isActive"`
	TotalProcessed string `json:"totalProcessed"`
	Signer         string `json:"signer"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	CreatedAt      int64  `json:"createdAt"`
}

type userPaymentJSON struct {
	Owner               string `json:"owner"`
	TokenMint           string `json:"tokenMint"`
	ActivePoliciesCount uint32 `json:"activePoliciesCount"`
	IsActive            bool   `json:"isActive"`
	CreatedAt           int64  `json:"createdAt"`
	UpdatedAt           int64  `json:"updatedAt"`
}

type policyTypeJSON struct {
	Kind           string  `json:"kind"`
	Amount         string  `json:"amount"`
	AutoRenew      bool    `json:"autoRenew"`
	MaxRenewals    *uint32 `json:"maxRenewals,omitempty"`
	Frequency      string  `json:"frequency"`
	Interval       uint64  `json:"interval,omitempty"`
	NextPaymentDue int64   `json:"nextPaymentDue"`
}

type policyJSON struct {
	Recipient    string         `json:"recipient"`
	Gateway      string         `json:"gateway"`
	PolicyType   policyTypeJSON `json:"policyType"`
	Status       string         `json:"status"`
	Memo         string         `json:"memo,omitempty"`
	TotalPaid    string         `json:"totalPaid"`
	PaymentCount uint32         `json:"paymentCount"`
	PolicyID     uint32         `json:"policyId"`
	CreatedAt    int64          `json:"createdAt"`
	UpdatedAt    int64          `json:"updatedAt"`
}

type receiptJSON struct {
	Amount          string `json:"amount"`
	GatewayFee      string `json:"gatewayFee"`
	ProtocolFee     string `json:"protocolFee"`
	RecipientAmount string `json:"recipientAmount"`
	RecordID        uint32 `json:"recordId"`
	Timestamp       int64  `json:"timestamp"`
	NextPaymentDue  int64  `json:"nextPaymentDue"`
}

type tokenBalanceJSON struct {
	Owner           string `json:"owner"`
	Mint            string `json:"mint"`
	Balance         string `json:"balance"`
	Delegated       bool   `json:"delegated"`
	DelegatedAmount string `json:"delegatedAmount"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddressParam(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseAmountParam(field, value string) (uint64, error) {
	amount, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil || amount == 0 {
		return 0, fmt.Errorf("%s must be a positive decimal", field)
	}
	return amount, nil
}

func parsePositiveBigInt(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be a positive decimal", field)
	}
	return amount, nil
}

func parseFrequencyParam(p frequencyParams) (payments.PaymentFrequency, error) {
	switch strings.ToLower(strings.TrimSpace(p.Kind)) {
	case "daily":
		return payments.PaymentFrequency{Kind: payments.FrequencyDaily}, nil
	case "weekly":
		return payments.PaymentFrequency{Kind: payments.FrequencyWeekly}, nil
	case "monthly":
		return payments.PaymentFrequency{Kind: payments.FrequencyMonthly}, nil
	case "quarterly":
		return payments.PaymentFrequency{Kind: payments.FrequencyQuarterly}, nil
	case "semiannually":
		return payments.PaymentFrequency{Kind: payments.FrequencySemiAnnually}, nil
	case "annually":
		return payments.PaymentFrequency{Kind: payments.FrequencyAnnually}, nil
	case "custom":
		return payments.PaymentFrequency{Kind: payments.FrequencyCustom, Interval: p.Interval}, nil
	default:
		return payments.PaymentFrequency{}, fmt.Errorf("unknown frequency kind %q", p.Kind)
	}
}

func parsePolicyTypeParam(p policyTypeParams) (payments.PolicyType, error) {
	kind := strings.ToLower(strings.TrimSpace(p.Kind))
	if kind != "" && kind != "subscription" {
		return payments.PolicyType{}, fmt.Errorf("unknown policy kind %q", p.Kind)
	}
	amount, err := parseAmountParam("amount", p.Amount)
	if err != nil {
		return payments.PolicyType{}, err
	}
	frequency, err := parseFrequencyParam(p.Frequency)
	if err != nil {
		return payments.PolicyType{}, err
	}
	sub := &payments.Subscription{
		Amount:         amount,
		AutoRenew:      p.AutoRenew,
		Frequency:      frequency,
		NextPaymentDue: p.NextPaymentDue,
	}
	if p.MaxRenewals != nil {
		renewals := *p.MaxRenewals
		sub.MaxRenewals = &renewals
	}
	return payments.PolicyType{Kind: payments.PolicyKindSubscription, Subscription: sub}, nil
}

func parseStatusParam(value string) (payments.PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "active":
		return payments.PaymentStatusActive, nil
	case "paused":
		return payments.PaymentStatusPaused, nil
	default:
		return 0, fmt.Errorf("unknown status %q", value)
	}
}

func formatAddress(addr [20]byte) string {
	return crypto.MustAddress(addr).String()
}

func formatConfigJSON(cfg *payments.ProgramConfig) configJSON {
	return configJSON{
		Admin:              formatAddress(cfg.Admin),
		FeeRecipient:       formatAddress(cfg.FeeRecipient),
		ProtocolFeeBps:     cfg.ProtocolFeeBps,
		MaxPoliciesPerUser: cfg.MaxPoliciesPerUser,
		EmergencyPause:     cfg.EmergencyPause,
	}
}

func formatGatewayJSON(gw *payments.PaymentGateway) gatewayJSON {
	return gatewayJSON{
		Authority:      formatAddress(gw.Authority),
		FeeRecipient:   formatAddress(gw.FeeRecipient),
		GatewayFeeBps:  gw.GatewayFeeBps,
		IsActive:       gw.IsActive,
		TotalProcessed: strconv.FormatUint(gw.TotalProcessed, 10),
		Signer:         formatAddress(gw.Signer),
		Name:           gw.Name,
		URL:            gw.URL,
		CreatedAt:      gw.CreatedAt,
	}
}

func formatUserPaymentJSON(up *payments.UserPayment) userPaymentJSON {
	return userPaymentJSON{
		Owner:               formatAddress(up.Owner),
		TokenMint:           formatAddress(up.TokenMint),
		ActivePoliciesCount: up.ActivePoliciesCount,
		IsActive:            up.IsActive,
		CreatedAt:           up.CreatedAt,
		UpdatedAt:           up.UpdatedAt,
	}
}

func formatPolicyJSON(policy *payments.PaymentPolicy) policyJSON {
	out := policyJSON{
		Recipient:    formatAddress(policy.Recipient),
		Gateway:      formatAddress(policy.Gateway),
		Status:       policy.Status.String(),
		Memo:         policy.Memo,
		TotalPaid:    strconv.FormatUint(policy.TotalPaid, 10),
		PaymentCount: policy.PaymentCount,
		PolicyID:     policy.PolicyID,
		CreatedAt:    policy.CreatedAt,
		UpdatedAt:    policy.UpdatedAt,
	}
	if sub := policy.PolicyType.Subscription; sub != nil {
		out.PolicyType = policyTypeJSON{
			Kind:           "subscription",
			Amount:         strconv.FormatUint(sub.Amount, 10),
			AutoRenew:      sub.AutoRenew,
			Frequency:      sub.Frequency.String(),
			NextPaymentDue: sub.NextPaymentDue,
		}
		if sub.Frequency.Kind == payments.FrequencyCustom {
			out.PolicyType.Frequency = "custom"
			out.PolicyType.Interval = sub.Frequency.Interval
		}
		if sub.MaxRenewals != nil {
			renewals := *sub.MaxRenewals
			out.PolicyType.MaxRenewals = &renewals
		}
	}
	return out
}

func formatReceiptJSON(receipt *payments.PaymentReceipt) receiptJSON {
	return receiptJSON{
		Amount:          strconv.FormatUint(receipt.Amount, 10),
		GatewayFee:      strconv.FormatUint(receipt.GatewayFee, 10),
		ProtocolFee:     strconv.FormatUint(receipt.ProtocolFee, 10),
		RecipientAmount: strconv.FormatUint(receipt.RecipientAmount, 10),
		RecordID:        receipt.RecordID,
		Timestamp:       receipt.Timestamp,
		NextPaymentDue:  receipt.NextPaymentDue,
	}
}

func formatTokenBalanceJSON(account *types.TokenAccount) tokenBalanceJSON {
	out := tokenBalanceJSON{
		Owner:           formatAddress(account.Owner),
		Mint:            formatAddress(account.Mint),
		Balance:         "0",
		DelegatedAmount: "0",
	}
	if account.Balance != nil {
		out.Balance = account.Balance.String()
	}
	if account.DelegatedAmount != nil {
		out.DelegatedAmount = account.DelegatedAmount.String()
	}
	out.Delegated = account.Delegate != nil
	return out
}

// writePaymentsError translates domain errors into RPC status codes.
func writePaymentsError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codePaymentsInternal
	message := "internal_error"
	switch {
	case errors.Is(err, payments.ErrConfigNotFound),
		errors.Is(err, payments.ErrGatewayNotFound),
		errors.Is(err, payments.ErrUserPaymentNotFound),
		errors.Is(err, payments.ErrPolicyNotFound),
		errors.Is(err, payments.ErrTokenAccountNotFound):
		status = http.StatusNotFound
		code = codePaymentsNotFound
		message = "not_found"
	case errors.Is(err, payments.ErrUnauthorized):
		status = http.StatusForbidden
		code = codePaymentsForbidden
		message = "forbidden"
	case errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrInvalidFrequency),
		errors.Is(err, payments.ErrInvalidInterval),
		errors.Is(err, payments.ErrInvalidFeeBps),
		errors.Is(err, payments.ErrInvalidPaymentDueDate),
		errors.Is(err, payments.ErrInvalidPolicyStatusTransition):
		status = http.StatusBadRequest
		code = codePaymentsInvalidParams
		message = "invalid_params"
	case errors.Is(err, payments.ErrProgramPaused),
		errors.Is(err, payments.ErrConfigExists),
		errors.Is(err, payments.ErrGatewayExists),
		errors.Is(err, payments.ErrGatewayInactive),
		errors.Is(err, payments.ErrGatewayActive),
		errors.Is(err, payments.ErrUserPaymentExists),
		errors.Is(err, payments.ErrUserPaymentInactive),
		errors.Is(err, payments.ErrPolicyExists),
		errors.Is(err, payments.ErrPolicyPaused),
		errors.Is(err, payments.ErrMaxPoliciesReached),
		errors.Is(err, payments.ErrPaymentNotDue),
		errors.Is(err, payments.ErrNoDelegateSet),
		errors.Is(err, payments.ErrInsufficientDelegatedAmount),
		errors.Is(err, payments.ErrInsufficientBalance),
		errors.Is(err, payments.ErrArithmeticOverflow):
		status = http.StatusConflict
		code = codePaymentsConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleInitializeConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params initializeConfigParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	admin, err := parseAddressParam("admin", params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	feeRecipient, err := parseAddressParam("feeRecipient", params.FeeRecipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	cfg, err := s.node.PaymentsInitializeConfig(admin, feeRecipient, params.ProtocolFeeBps, params.MaxPoliciesPerUser)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatConfigJSON(cfg))
}

func (s *Server) handleSetPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setPauseParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PaymentsSetPause(caller, params.Paused); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	observability.Settlements().SetPause(params.Paused)
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params updateConfigParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	feeRecipient, err := parseAddressParam("feeRecipient", params.FeeRecipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PaymentsUpdateConfig(caller, feeRecipient, params.ProtocolFeeBps, params.MaxPoliciesPerUser); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg, err := s.node.PaymentsConfig()
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatConfigJSON(cfg))
}

func (s *Server) handleCreateGateway(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params createGatewayParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	authority, err := parseAddressParam("authority", params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	feeRecipient, err := parseAddressParam("feeRecipient", params.FeeRecipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	gw, err := s.node.PaymentsCreateGateway(caller, authority, feeRecipient, params.GatewayFeeBps, params.Name, params.URL)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatGatewayJSON(gw))
}

func (s *Server) handleSetGatewayActive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params gatewayActiveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	authority, err := parseAddressParam("authority", params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PaymentsSetGatewayActive(caller, authority, params.Active); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleDeleteGateway(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params gatewayAuthorityParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	authority, err := parseAddressParam("authority", params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PaymentsDeleteGateway(caller, authority); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleChangeGatewaySigner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params gatewaySignerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	newSigner, err := parseAddressParam("newSigner", params.NewSigner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PaymentsChangeGatewaySigner(caller, newSigner); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleChangeGatewayFeeRecipient(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params gatewayFeeRecipientParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	newRecipient, err := parseAddressParam("newRecipient", params.NewRecipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PaymentsChangeGatewayFeeRecipient(caller, newRecipient); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleGetGateway(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params gatewayAuthorityParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	authority, err := parseAddressParam("authority", params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	gw, err := s.node.PaymentsGateway(authority)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatGatewayJSON(gw))
}

func (s *Server) handleCreateUserPayment(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params userPaymentParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	up, err := s.node.PaymentsCreateUserPayment(owner, mint)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatUserPaymentJSON(up))
}

func (s *Server) handleGetUserPayment(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params userPaymentParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	up, err := s.node.PaymentsUserPayment(owner, mint)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatUserPaymentJSON(up))
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params createPolicyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := parseAddressParam("recipient", params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	gateway, err := parseAddressParam("gateway", params.Gateway)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	policyType, err := parsePolicyTypeParam(params.PolicyType)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	policy, err := s.node.PaymentsCreatePolicy(owner, mint, params.PolicyID, recipient, gateway, policyType, params.Memo)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatPolicyJSON(policy))
}

func (s *Server) handleChangePolicyStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params policyStatusParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	status, err := parseStatusParam(params.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PaymentsChangePolicyStatus(caller, mint, params.PolicyID, status); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params policyRefParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.PaymentsDeletePolicy(caller, mint, params.PolicyID); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params policyRefParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	policy, err := s.node.PaymentsPolicy(owner, mint, params.PolicyID)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatPolicyJSON(policy))
}

func (s *Server) handleExecutePayment(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params executePaymentParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.node.PaymentsExecutePayment(caller, owner, mint, params.PolicyID)
	if err != nil {
		observability.Settlements().RecordFailure("unknown", reasonLabel(err))
		writePaymentsError(w, req.ID, err)
		return
	}
	observability.Settlements().RecordCharge(formatAddress(receipt.Gateway), receipt.Amount, receipt.GatewayFee, receipt.ProtocolFee)
	writeResult(w, req.ID, formatReceiptJSON(receipt))
}

// reasonLabel strips the package prefix from a domain error so metric labels
// stay compact.
func reasonLabel(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "payments: ")
}

func (s *Server) handleTokenFund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenFundParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.TokenFund(caller, owner, mint, amount); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.TokenApprove(owner, mint, amount); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenRefParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.TokenRevoke(owner, mint); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenRefParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := parseAddressParam("mint", params.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	account, err := s.node.TokenAccount(owner, mint)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatTokenBalanceJSON(account))
}
