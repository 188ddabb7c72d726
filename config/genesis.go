package config

import (
	"fmt"
	"math/big"
	"strings"

	"paygrid/crypto"
)

// Parse decodes the allocation's addresses and balance into runtime values.
func (a Allocation) Parse() ([20]byte, [20]byte, *big.Int, error) {
	owner, err := crypto.ParseAddress(strings.TrimSpace(a.Owner))
	if err != nil {
		return [20]byte{}, [20]byte{}, nil, fmt.Errorf("Owner: %w", err)
	}
	mint, err := crypto.ParseAddress(strings.TrimSpace(a.Mint))
	if err != nil {
		return [20]byte{}, [20]byte{}, nil, fmt.Errorf("Mint: %w", err)
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(a.Balance), 10)
	if !ok || balance.Sign() <= 0 {
		return [20]byte{}, [20]byte{}, nil, fmt.Errorf("Balance %q is not a positive decimal", a.Balance)
	}
	return owner, mint, balance, nil
}

// GenesisAdmin resolves the admin address, falling back to the operator
// address when the config leaves it empty.
func (g Genesis) GenesisAdmin(operator [20]byte) ([20]byte, error) {
	if strings.TrimSpace(g.Admin) == "" {
		return operator, nil
	}
	return crypto.ParseAddress(g.Admin)
}

// GenesisFeeRecipient resolves the protocol fee recipient, falling back to
// the admin when the config leaves it empty.
func (g Genesis) GenesisFeeRecipient(admin [20]byte) ([20]byte, error) {
	if strings.TrimSpace(g.FeeRecipient) == "" {
		return admin, nil
	}
	return crypto.ParseAddress(g.FeeRecipient)
}
