package uniswap

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Router contract ABI, restricted to the calls the arbitrage legs make
const routerABIJson = `[{
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "path", "type": "address[]"}
	],
	"name": "getAmountsOut",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "view",
	"type": "function"
}, {
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "amountOutMin", "type": "uint256"},
		{"name": "path", "type": "address[]"},
		{"name": "to", "type": "address"},
		{"name": "deadline", "type": "uint256"}
	],
	"name": "swapExactTokensForTokens",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// ERC20 ABI subset
const erc20ABIJson = `[{
	"constant": true,
	"inputs": [
		{"name": "owner", "type": "address"},
		{"name": "spender", "type": "address"}
	],
	"name": "allowance",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": false,
	"inputs": [
		{"name": "spender", "type": "address"},
		{"name": "amount", "type": "uint256"}
	],
	"name": "approve",
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "nonpayable",
	"type": "function"
}, {
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

var (
	// RouterABI is the parsed router ABI
	RouterABI = mustParseABI(routerABIJson)
	// ERC20ABI is the parsed token ABI
	ERC20ABI = mustParseABI(erc20ABIJson)
	// TransferTopic is the topic0 of the ERC-20 Transfer event
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
