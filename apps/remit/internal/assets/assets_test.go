package assets

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaultRegistry(t *testing.T) {
	registry, err := NewRegistry("ada", DefaultCurrencies())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	if hub := registry.Hub(); hub == nil || hub.TokenSymbol != "wADA" {
		t.Fatalf("expected wADA hub token, got %+v", hub)
	}

	idr, ok := registry.Get("idr")
	if !ok {
		t.Fatal("expected IDR to be supported")
	}
	if !idr.HasToken() || idr.Decimals != 2 {
		t.Errorf("unexpected IDR descriptor %+v", idr)
	}

	mxn, ok := registry.Get("MXN")
	if !ok || mxn.HasToken() {
		t.Errorf("expected MXN without token, got %+v", mxn)
	}

	if bySymbol, ok := registry.BySymbol("IDRM"); !ok || bySymbol.Code != "IDR" {
		t.Errorf("expected IDRM to resolve to IDR")
	}

	codes := make([]string, 0)
	for _, currency := range registry.All() {
		codes = append(codes, currency.Code)
	}
	if strings.Join(codes, ",") != "ADA,EUR,IDR,MXN,PHP,SGD,USD" {
		t.Errorf("unexpected ordering %v", codes)
	}
}

func TestTokenUnit(t *testing.T) {
	currency := &Currency{
		Code:        "IDR",
		TokenSymbol: "IDRM",
		AssetName:   "IDRM",
		Policy:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
	}

	expected := "00000000000000000000000000000000000000aa" + "4944524d"
	if unit := currency.TokenUnit(); unit != expected {
		t.Errorf("expected %s, got %s", expected, unit)
	}

	name := currency.AssetNameBytes32()
	if string(name[:4]) != "IDRM" || name[4] != 0 {
		t.Errorf("unexpected bytes32 asset name %x", name)
	}
}

func TestNewRegistryRejectsInvalid(t *testing.T) {
	tests := []struct {
		name       string
		hub        string
		currencies []*Currency
	}{
		{
			name:       "MissingHub",
			hub:        "ADA",
			currencies: []*Currency{{Code: "USD", TokenSymbol: "USDM", Decimals: 6}},
		},
		{
			name:       "HubWithoutToken",
			hub:        "MXN",
			currencies: []*Currency{{Code: "MXN", Decimals: 2}},
		},
		{
			name: "DuplicateSymbol",
			hub:  "ADA",
			currencies: []*Currency{
				{Code: "ADA", TokenSymbol: "wADA", Decimals: 6},
				{Code: "USD", TokenSymbol: "wADA", Decimals: 6},
			},
		},
		{
			name:       "TooManyDecimals",
			hub:        "ADA",
			currencies: []*Currency{{Code: "ADA", TokenSymbol: "wADA", Decimals: 19}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewRegistry(test.hub, test.currencies); err == nil {
				t.Error("expected registry construction to fail")
			}
		})
	}
}
