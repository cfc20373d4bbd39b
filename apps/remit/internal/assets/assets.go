package assets

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Currency describes a fiat or hub currency and, when it has one, the token representing it on chain.
type Currency struct {
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	TokenSymbol string         `json:"token_symbol,omitempty"`
	AssetName   string         `json:"asset_name,omitempty"`
	Decimals    int32          `json:"decimals"`
	Policy      common.Address `json:"policy"`
	// RequiresHubProof marks tokens that are only issued against burned hub tokens.
	RequiresHubProof bool `json:"requires_hub_proof"`
}

// HasToken reports whether the currency can be minted directly.
func (c *Currency) HasToken() bool {
	return c.TokenSymbol != ""
}

// PolicyID is the lower-case hex policy identifier without 0x prefix.
func (c *Currency) PolicyID() string {
	return strings.ToLower(strings.TrimPrefix(c.Policy.Hex(), "0x"))
}

// TokenUnit is the policy id followed by the hex-encoded asset name.
func (c *Currency) TokenUnit() string {
	return c.PolicyID() + hex.EncodeToString([]byte(c.AssetName))
}

// AssetNameBytes32 left-aligns the asset name into a bytes32 value.
func (c *Currency) AssetNameBytes32() [32]byte {
	var name [32]byte
	copy(name[:], c.AssetName)
	return name
}

// Registry holds all supported currencies
type Registry struct {
	hub      string
	byCode   map[string]*Currency
	bySymbol map[string]*Currency
}

// NewRegistry creates a registry with the given hub currency code. The hub must
// be among the currencies and must carry a token.
func NewRegistry(hub string, currencies []*Currency) (*Registry, error) {
	registry := &Registry{
		hub:      strings.ToUpper(hub),
		byCode:   make(map[string]*Currency),
		bySymbol: make(map[string]*Currency),
	}

	for _, currency := range currencies {
		if err := registry.Register(currency); err != nil {
			return nil, err
		}
	}

	hubCurrency, exists := registry.byCode[registry.hub]
	if !exists {
		return nil, fmt.Errorf("hub currency %s is not registered", registry.hub)
	}
	if !hubCurrency.HasToken() {
		return nil, fmt.Errorf("hub currency %s has no token", registry.hub)
	}

	return registry, nil
}

// Register adds a currency, rejecting duplicate codes or token symbols.
func (r *Registry) Register(currency *Currency) error {
	code := strings.ToUpper(currency.Code)
	if code == "" {
		return fmt.Errorf("currency code is empty")
	}
	if _, exists := r.byCode[code]; exists {
		return fmt.Errorf("currency %s already registered", code)
	}
	if currency.Decimals < 0 || currency.Decimals > 18 {
		return fmt.Errorf("currency %s has invalid decimals %d", code, currency.Decimals)
	}
	currency.Code = code

	if currency.HasToken() {
		if _, exists := r.bySymbol[currency.TokenSymbol]; exists {
			return fmt.Errorf("token symbol %s already registered", currency.TokenSymbol)
		}
		if currency.AssetName == "" {
			currency.AssetName = currency.TokenSymbol
		}
		if len(currency.AssetName) > 32 {
			return fmt.Errorf("asset name %s exceeds 32 bytes", currency.AssetName)
		}
		r.bySymbol[currency.TokenSymbol] = currency
	}

	r.byCode[code] = currency
	return nil
}

// Get returns a currency by its code (case-insensitive)
func (r *Registry) Get(code string) (*Currency, bool) {
	currency, exists := r.byCode[strings.ToUpper(code)]
	return currency, exists
}

// BySymbol returns the currency represented by a token symbol
func (r *Registry) BySymbol(symbol string) (*Currency, bool) {
	currency, exists := r.bySymbol[symbol]
	return currency, exists
}

// Hub returns the hub currency
func (r *Registry) Hub() *Currency {
	return r.byCode[r.hub]
}

// All returns every currency ordered by code
func (r *Registry) All() []*Currency {
	currencies := make([]*Currency, 0, len(r.byCode))
	for _, currency := range r.byCode {
		currencies = append(currencies, currency)
	}
	sort.Slice(currencies, func(i, j int) bool { return currencies[i].Code < currencies[j].Code })
	return currencies
}

// DefaultCurrencies returns the currencies supported out of the box.
func DefaultCurrencies() []*Currency {
	return []*Currency{
		{
			Code:        "ADA",
			Name:        "Cardano",
			TokenSymbol: "wADA",
			Decimals:    6,
			Policy:      common.HexToAddress("0x7e1a39cd3f2f3d6ce5c8ea1cb03f4e7e4d6c0a01"),
		},
		{
			Code:        "USD",
			Name:        "US Dollar",
			TokenSymbol: "USDM",
			Decimals:    6,
			Policy:      common.HexToAddress("0x7e1a39cd3f2f3d6ce5c8ea1cb03f4e7e4d6c0a02"),
		},
		{
			Code:        "EUR",
			Name:        "Euro",
			TokenSymbol: "EURM",
			Decimals:    6,
			Policy:      common.HexToAddress("0x7e1a39cd3f2f3d6ce5c8ea1cb03f4e7e4d6c0a03"),
		},
		{
			Code:        "IDR",
			Name:        "Indonesian Rupiah",
			TokenSymbol: "IDRM",
			Decimals:    2,
			Policy:      common.HexToAddress("0x7e1a39cd3f2f3d6ce5c8ea1cb03f4e7e4d6c0a04"),
		},
		{
			Code:             "PHP",
			Name:             "Philippine Peso",
			TokenSymbol:      "PHPM",
			Decimals:         2,
			Policy:           common.HexToAddress("0x7e1a39cd3f2f3d6ce5c8ea1cb03f4e7e4d6c0a05"),
			RequiresHubProof: true,
		},
		{
			Code:     "MXN",
			Name:     "Mexican Peso",
			Decimals: 2,
		},
		{
			Code:     "SGD",
			Name:     "Singapore Dollar",
			Decimals: 2,
		},
	}
}
