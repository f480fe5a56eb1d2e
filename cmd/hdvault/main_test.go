package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Fantasim/hdvault/internal/wallet"
)

const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestRunChains(t *testing.T) {
	var out bytes.Buffer
	if err := runChains(&out); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"BTC_TESTNET", "m/44'/501'/{account}'/0'", "secp256k1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("chains output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunDerive(t *testing.T) {
	var out bytes.Buffer
	err := runDerive([]string{"-chains", "btc,eth", "-count", "2"}, strings.NewReader(testPhrase+"\n"), &out)
	if err != nil {
		t.Fatalf("runDerive() error = %v", err)
	}

	for _, want := range []string{
		"bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
		"0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		"m/44'/60'/1'/0/0",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("derive output missing %q:\n%s", want, out.String())
		}
	}
	if lines := strings.Count(out.String(), "\n"); lines != 5 {
		t.Errorf("derive output has %d lines, want header + 4", lines)
	}
}

func TestRunDeriveErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		input   string
		wantErr error
	}{
		{"bad phrase", nil, "abandon abandon\n", wallet.ErrInvalidMnemonic},
		{"unknown chain", []string{"-chains", "DOGE"}, testPhrase, wallet.ErrUnknownChain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runDerive(tt.args, strings.NewReader(tt.input), &bytes.Buffer{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("runDerive() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := runDerive([]string{"-count", "0"}, strings.NewReader(testPhrase), &bytes.Buffer{}); err == nil {
		t.Error("runDerive(-count 0) expected error")
	}
}
