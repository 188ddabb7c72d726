package payments

import "errors"

var (
	ErrProgramPaused                 = errors.New("payments: program is paused")
	ErrInvalidAmount                 = errors.New("payments: amount must be greater than zero")
	ErrInvalidFrequency              = errors.New("payments: invalid payment frequency")
	ErrInvalidInterval               = errors.New("payments: invalid interval")
	ErrInvalidFeeBps                 = errors.New("payments: invalid fee basis points")
	ErrMaxPoliciesReached            = errors.New("payments: maximum policies per user reached")
	ErrUnauthorized                  = errors.New("payments: unauthorized")
	ErrInvalidPolicyStatusTransition = errors.New("payments: invalid policy status transition")
	ErrPolicyNotFound                = errors.New("payments: payment policy not found")
	ErrPolicyExists                  = errors.New("payments: payment policy already exists")
	ErrInsufficientDelegatedAmount   = errors.New("payments: insufficient delegated amount")
	ErrInsufficientBalance           = errors.New("payments: insufficient balance for payment")
	ErrPaymentNotDue                 = errors.New("payments: payment is not yet due")
	ErrNoDelegateSet                 = errors.New("payments: no or incorrect delegate set on token account")
	ErrPolicyPaused                  = errors.New("payments: payment policy is paused")
	ErrInvalidPaymentDueDate         = errors.New("payments: invalid payment due date")
	ErrArithmeticOverflow            = errors.New("payments: arithmetic overflow")
	ErrConfigNotFound                = errors.New("payments: program config not found")
	ErrConfigExists                  = errors.New("payments: program config already initialized")
	ErrGatewayNotFound               = errors.New("payments: payment gateway not found")
	ErrGatewayExists                 = errors.New("payments: payment gateway already exists")
	ErrGatewayInactive               = errors.New("payments: payment gateway inactive")
	ErrGatewayActive                 = errors.New("payments: payment gateway still active")
	ErrUserPaymentNotFound           = errors.New("payments: user payment not found")
	ErrUserPaymentExists             = errors.New("payments: user payment already exists")
	ErrUserPaymentInactive           = errors.New("payments: user payment inactive")
	ErrTokenAccountNotFound          = errors.New("payments: token account not found")
)
