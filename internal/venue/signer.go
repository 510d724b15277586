// signer.go wraps the EIP-712 signing surface the execution adapter needs
// into an opaque handle, grounded on the teacher's Auth type
// (exchange/auth.go) but trimmed down: spec.md §6 treats venue signing as an
// external collaborator, so Signer exposes only "sign this action" and never
// lets callers reach the private key.
package venue

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Action is the `{action, nonce, vault_address?}` payload shape spec.md §6
// describes for the venue execution wire protocol. Signer never interprets
// Action's contents; it only signs the canonical hash the caller supplies.
type Action struct {
	Payload      map[string]any
	Nonce        int64
	VaultAddress string
}

// Signature is the r/s/v triplet Hyperliquid's action endpoint expects.
type Signature struct {
	R string
	S string
	V int
}

// Signer is the opaque handle an ExecutionAdapter holds. It never exposes
// the underlying private key; NewSigner is the only place one is read.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewSigner constructs a Signer from a hex-encoded private key (with or
// without the 0x prefix) and the venue's chain ID.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	hexKey := privateKeyHex
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("venue: parse signer key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// Address is the signer's on-chain address, safe to surface in logs/metrics.
func (s *Signer) Address() common.Address { return s.address }

// SignTypedData signs an EIP-712 typed-data structure and returns the
// r/s/v triplet the action endpoint expects in its signature field.
func (s *Signer) SignTypedData(typedData apitypes.TypedData) (Signature, error) {
	domainHash, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return Signature{}, fmt.Errorf("venue: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return Signature{}, fmt.Errorf("venue: hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainHash), string(messageHash)))
	digest := crypto.Keccak256(rawData)

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("venue: sign: %w", err)
	}

	return Signature{
		R: fmt.Sprintf("0x%x", sig[:32]),
		S: fmt.Sprintf("0x%x", sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}
