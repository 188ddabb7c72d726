package payments

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Namespace seeds for deterministic record addressing. Record addresses are
// the trailing 20 bytes of keccak256(seed || components), mirroring how the
// host platform derives record keys from stable seeds.
var (
	seedConfig      = []byte("paygrid/config")
	seedGateway     = []byte("paygrid/gateway")
	seedUserPayment = []byte("paygrid/user-payment")
	seedPolicy      = []byte("paygrid/policy")
	seedDelegate    = []byte("paygrid/payments-delegate")
	seedTokenAcct   = []byte("paygrid/token-account")
)

func deriveAddress(seed []byte, components ...[]byte) [20]byte {
	buf := make([]byte, 0, len(seed)+len(components)*32)
	buf = append(buf, seed...)
	for _, c := range components {
		buf = append(buf, c...)
	}
	hash := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// ConfigAddress returns the address of the singleton program config record.
func ConfigAddress() [20]byte {
	return deriveAddress(seedConfig)
}

// GatewayAddress returns the record address for the gateway owned by the
// supplied authority.
func GatewayAddress(authority [20]byte) [20]byte {
	return deriveAddress(seedGateway, authority[:])
}

// UserPaymentAddress returns the record address for the (owner, mint)
// aggregate.
func UserPaymentAddress(owner, mint [20]byte) [20]byte {
	return deriveAddress(seedUserPayment, owner[:], mint[:])
}

// PolicyAddress returns the record address for a policy under its parent
// user payment.
func PolicyAddress(userPayment [20]byte, policyID uint32) [20]byte {
	var id [4]byte
	binary.LittleEndian.PutUint32(id[:], policyID)
	return deriveAddress(seedPolicy, userPayment[:], id[:])
}

// TokenAccountAddress returns the address of the balance-holding account for
// a holder and mint.
func TokenAccountAddress(holder, mint [20]byte) [20]byte {
	return deriveAddress(seedTokenAcct, holder[:], mint[:])
}

// DelegateAddress returns the capability address authorized to move
// pre-approved funds on behalf of the protocol. It is derived from a
// namespace constant only, so it is distinct from every user key.
func DelegateAddress() [20]byte {
	return deriveAddress(seedDelegate)
}
