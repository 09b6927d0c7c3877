package main

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"webthree-rpc/eth"
)

var errUsage = errors.New("ethrpc: bad argument")

// parseBlock accepts "latest", "pending" or a block number.
func parseBlock(s string) (eth.BlockNumber, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest":
		return eth.Latest, nil
	case "pending":
		return eth.Pending, nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil || n >= eth.Pending {
		return 0, fmt.Errorf("%w: block %q", errUsage, s)
	}
	return n, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: address %q", errUsage, s)
	}
	return common.HexToAddress(s), nil
}

// parseBig accepts decimal or 0x-prefixed hex. Empty is zero.
func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: number %q", errUsage, s)
	}
	return v, nil
}

// parseBytes decodes 0x-prefixed hex. Empty is no data.
func parseBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: hex %q: %v", errUsage, s, err)
	}
	return b, nil
}

func parseSecret(s string) (common.Hash, error) {
	b, err := parseBytes(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: secret must be 32 bytes of 0x-prefixed hex", errUsage)
	}
	return common.BytesToHash(b), nil
}

func parseAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		addr, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
