package tokens

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// metadataABI covers the two ERC20 views a token record needs.
const metadataABI = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

// legacySymbolABI decodes symbol() of tokens deployed before the string
// return type settled, MKR among them.
const legacySymbolABI = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

var (
	erc20ABIStringInstance  = sync.OnceValues(func() (abi.ABI, error) { return abi.JSON(strings.NewReader(metadataABI)) })
	erc20ABIBytes32Instance = sync.OnceValues(func() (abi.ABI, error) { return abi.JSON(strings.NewReader(legacySymbolABI)) })
)

// bytes32ToString trims the zero padding of a fixed-size symbol.
func bytes32ToString(value interface{}) (string, bool) {
	var raw []byte
	switch v := value.(type) {
	case [32]byte:
		raw = v[:]
	case []byte:
		raw = v
	default:
		return "", false
	}
	return string(bytes.TrimRight(raw, "\x00")), true
}

// asInt converts a decoded decimals value. Anything above 255 is rejected.
func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case uint8:
		return int(v), nil
	case *big.Int:
		if v.Sign() < 0 || v.Cmp(big.NewInt(255)) > 0 {
			return 0, fmt.Errorf("decimals out of range: %s", v)
		}
		return int(v.Int64()), nil
	default:
		return 0, fmt.Errorf("unsupported decimals type %T", value)
	}
}
