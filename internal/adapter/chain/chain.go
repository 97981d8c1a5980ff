package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"bnpl-engine/internal/domain/errs"
)

const (
	methodHealthFactor = "healthFactor"
	methodLiquidate    = "liquidate"

	DefaultGasLimit uint64 = 300000
)

// DefaultABI covers the two lending-pool calls the poller needs.
const DefaultABI = `[
  {"type":"function","name":"healthFactor","stateMutability":"view",
   "inputs":[{"name":"borrower","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"liquidate","stateMutability":"nonpayable",
   "inputs":[{"name":"borrower","type":"address"}],
   "outputs":[]}
]`

// Backend is the subset of the Ethereum RPC used by the client.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// Dial opens an RPC connection to endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// LoadABI reads a contract ABI from path, or returns DefaultABI when path is empty.
func LoadABI(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultABI, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read abi: %w", err)
	}
	return string(raw), nil
}

type Options struct {
	Contract   string
	ABI        string
	PrivateKey string
	GasLimit   uint64
}

// EthClient reads health factors and submits liquidations against a
// lending-pool contract.
type EthClient struct {
	backend  Backend
	contract common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	gasLimit uint64
}

func NewEthClient(backend Backend, opts Options) (*EthClient, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend required")
	}
	if !common.IsHexAddress(opts.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", opts.Contract)
	}
	abiJSON := opts.ABI
	if strings.TrimSpace(abiJSON) == "" {
		abiJSON = DefaultABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	for _, name := range []string{methodHealthFactor, methodLiquidate} {
		if _, ok := parsed.Methods[name]; !ok {
			return nil, fmt.Errorf("abi missing method %s", name)
		}
	}
	c := &EthClient{
		backend:  backend,
		contract: common.HexToAddress(opts.Contract),
		abi:      parsed,
		gasLimit: opts.GasLimit,
	}
	if c.gasLimit == 0 {
		c.gasLimit = DefaultGasLimit
	}
	if opts.PrivateKey != "" {
		pkHex := strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x")
		key, err := gethcrypto.HexToECDSA(pkHex)
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
		c.key = key
		c.from = gethcrypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Liquidator is the address that signs liquidation transactions.
func (c *EthClient) Liquidator() string {
	return c.from.Hex()
}

func parseBorrower(borrower string) (common.Address, error) {
	if !common.IsHexAddress(borrower) {
		return common.Address{}, errs.Invalid("borrower", fmt.Sprintf("%q is not an address", borrower))
	}
	return common.HexToAddress(borrower), nil
}

// ReadHealthFactor returns the raw 1e18-scaled health factor for borrower.
func (c *EthClient) ReadHealthFactor(ctx context.Context, borrower string) (*big.Int, error) {
	addr, err := parseBorrower(borrower)
	if err != nil {
		return nil, err
	}
	data, err := c.abi.Pack(methodHealthFactor, addr)
	if err != nil {
		return nil, fmt.Errorf("pack healthFactor: %w", err)
	}
	to := c.contract
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, errs.External("chain", fmt.Errorf("call healthFactor: %w", err))
	}
	values, err := c.abi.Unpack(methodHealthFactor, out)
	if err != nil {
		return nil, errs.External("chain", fmt.Errorf("unpack healthFactor: %w", err))
	}
	if len(values) != 1 {
		return nil, errs.External("chain", fmt.Errorf("healthFactor returned %d values", len(values)))
	}
	hf, ok := values[0].(*big.Int)
	if !ok || hf == nil {
		return nil, errs.External("chain", errors.New("healthFactor returned non-integer"))
	}
	return hf, nil
}

// SubmitLiquidation signs and broadcasts liquidate(borrower) and returns the
// transaction hash.
func (c *EthClient) SubmitLiquidation(ctx context.Context, borrower string) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("liquidator key not configured")
	}
	addr, err := parseBorrower(borrower)
	if err != nil {
		return "", err
	}
	data, err := c.abi.Pack(methodLiquidate, addr)
	if err != nil {
		return "", fmt.Errorf("pack liquidate: %w", err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", errs.External("chain", fmt.Errorf("fetch nonce: %w", err))
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", errs.External("chain", fmt.Errorf("suggest gas price: %w", err))
	}
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return "", errs.External("chain", fmt.Errorf("fetch chain id: %w", err))
	}
	to := c.contract
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign liquidation: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", errs.External("chain", fmt.Errorf("send liquidation: %w", err))
	}
	return signed.Hash().Hex(), nil
}
