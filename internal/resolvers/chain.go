package resolvers

import (
	"context"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/plugin"
)

var (
	addressType = reflect.TypeFor[common.Address]()
	hashType    = reflect.TypeFor[common.Hash]()
	bigIntType  = reflect.TypeFor[*big.Int]()
	bytesType   = reflect.TypeFor[hexutil.Bytes]()
)

// Chain converts named string values into chain types: common.Address,
// common.Hash, *big.Int and hexutil.Bytes. Values that do not parse are
// skipped so later resolvers get a chance.
type Chain struct {
	plugin.NopLifecycle
	filter
}

func NewChain() *Chain {
	return &Chain{}
}

func (r *Chain) Info() plugin.Info {
	return info("chain", "Parses addresses, hashes and big integers from named values.")
}

func (r *Chain) Configure(cfg map[string]any) error {
	return plugin.DecodeConfig(cfg, &r.filter)
}

func (r *Chain) Supports(p invoke.Param, md *invoke.Metadata) bool {
	switch p.Type {
	case addressType, hashType, bigIntType, bytesType:
	default:
		return false
	}
	if !r.admits(md) {
		return false
	}
	v, ok := md.Value(p.Name)
	if !ok {
		return false
	}
	switch v.(type) {
	case string, float64, int, int64, uint64:
		return true
	}
	return false
}

func (r *Chain) Resolve(_ context.Context, p invoke.Param, md *invoke.Metadata) (invoke.Result, error) {
	v, _ := md.Value(p.Name)
	var (
		out any
		ok  bool
	)
	switch p.Type {
	case addressType:
		out, ok = parseAddress(v)
	case hashType:
		out, ok = parseHash(v)
	case bigIntType:
		out, ok = parseBig(v)
	case bytesType:
		out, ok = parseBytes(v)
	}
	if !ok {
		return invoke.Skip(), nil
	}
	return invoke.Resolved(out), nil
}

// parseAddress accepts 0x-prefixed hex. Mixed-case input must carry a valid
// EIP-55 checksum.
func parseAddress(v any) (common.Address, bool) {
	s, ok := v.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(s)
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex()[2:] != body {
		return common.Address{}, false
	}
	return addr, true
}

func parseHash(v any) (common.Hash, bool) {
	s, ok := v.(string)
	if !ok {
		return common.Hash{}, false
	}
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(raw), true
}

// parseBig accepts decimal strings, 0x-prefixed hex and whole JSON numbers.
func parseBig(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case string:
		if strings.HasPrefix(n, "0x") || strings.HasPrefix(n, "0X") {
			out, err := hexutil.DecodeBig(n)
			return out, err == nil
		}
		return new(big.Int).SetString(n, 10)
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, false
		}
		out, _ := big.NewFloat(n).Int(nil)
		return out, true
	case int:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	}
	return nil, false
}

func parseBytes(v any) (hexutil.Bytes, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, false
	}
	return hexutil.Bytes(raw), true
}
