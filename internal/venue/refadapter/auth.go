// Package refadapter is a reference VenueAdapter for a generic CLOB-style
// venue that signs orders with EIP-712, talks REST via resty, and listens
// on a websocket via gorilla/websocket. It is a thin, intentionally minimal
// collaborator — venue wire adapters are out of the core's scope — kept
// only so VenueAdapter has at least one real implementation to wire
// RequestScheduler and BalancePositionLoop against.
//
// Grounded on internal/exchange/{auth,client,ws}.go from the retrieved
// corpus, generalized from Polymarket's CTF-exchange domain to a generic
// "sign this order struct, call this REST endpoint" capability.
package refadapter

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer produces EIP-712 signatures for order submission and request
// authentication, generalized from the teacher's auth.Auth.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner parses a hex-encoded private key (0x-prefixed or not).
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	pk, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("refadapter: parse private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    crypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the signer's wallet address.
func (s *Signer) Address() common.Address { return s.address }

// SignOrder produces an EIP-712 signature over a generic order payload.
// domainName/typesDef/message are provided by the caller so this stays
// venue-agnostic — distinct CLOBs define distinct typed-data schemas.
func (s *Signer) SignOrder(domainName string, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) (string, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    domainName,
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(s.chainID)),
		},
		Message: message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("refadapter: typed data hash: %w", err)
	}
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("refadapter: sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// AuthHeaders produces the headers a generic CLOB expects for a signed
// request: address, signature over the request nonce/timestamp, and the
// timestamp itself.
func (s *Signer) AuthHeaders(nonce int64) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := s.SignOrder(
		"AuthDomain",
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Auth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		apitypes.TypedDataMessage{
			"address":   s.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
		},
		"Auth",
	)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"X-ADDRESS":   s.address.Hex(),
		"X-SIGNATURE": sig,
		"X-TIMESTAMP": timestamp,
	}, nil
}
