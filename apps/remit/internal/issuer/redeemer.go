package issuer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"remit/apps/remit/internal/assets"
)

const (
	SelectorMint uint8 = 0
	SelectorBurn uint8 = 1
)

// PolicyABI is the issuance policy contract entry point. Mint and burn share one
// policy per currency and are told apart by the redeemer selector.
const PolicyABI = `[{
	"inputs": [
		{"internalType": "uint8", "name": "selector", "type": "uint8"},
		{"internalType": "bytes32", "name": "assetName", "type": "bytes32"},
		{"internalType": "int256", "name": "quantity", "type": "int256"}
	],
	"name": "redeem",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// Redeemer is the typed argument attached to a policy invocation.
type Redeemer interface {
	Selector() uint8
	Amount() *big.Int
	// Quantity is the signed change in token supply.
	Quantity() *big.Int
	Kind() string
}

type MintRedeemer struct {
	Units *big.Int
}

func (m MintRedeemer) Selector() uint8    { return SelectorMint }
func (m MintRedeemer) Amount() *big.Int   { return m.Units }
func (m MintRedeemer) Quantity() *big.Int { return new(big.Int).Set(m.Units) }
func (m MintRedeemer) Kind() string       { return "mint" }

type BurnRedeemer struct {
	Units *big.Int
}

func (b BurnRedeemer) Selector() uint8    { return SelectorBurn }
func (b BurnRedeemer) Amount() *big.Int   { return b.Units }
func (b BurnRedeemer) Quantity() *big.Int { return new(big.Int).Neg(b.Units) }
func (b BurnRedeemer) Kind() string       { return "burn" }

func parsePolicyABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(PolicyABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse policy ABI: %w", err)
	}
	return parsed, nil
}

// encodeRedeemer packs the policy call for a redeemer against currency's token.
func encodeRedeemer(policyABI abi.ABI, currency *assets.Currency, redeemer Redeemer) ([]byte, error) {
	data, err := policyABI.Pack("redeem", redeemer.Selector(), currency.AssetNameBytes32(), redeemer.Quantity())
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s redeemer: %w", redeemer.Kind(), err)
	}
	return data, nil
}
