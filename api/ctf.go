package api

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
)

const (
	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract, holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
)

var (
	ctfABI   abi.ABI
	erc20ABI abi.ABI
)

func init() {
	var err error

	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "redeemPositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "indexSets", "type": "uint256[]"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("ctf abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// CTFClient executes redeemPositions transactions against the Conditional
// Token Framework on Polygon and reads USDC balances.
type CTFClient struct {
	client          *ethclient.Client
	privateKey      *ecdsa.PrivateKey
	address         common.Address
	chainID         *big.Int
	gasLimit        uint64
	gasPriceBumpPct int64
	log             *zap.Logger
}

// NewCTFClient connects to a Polygon RPC. privateKeyHex may carry a 0x
// prefix. gasLimit is a fixed ceiling; redeemPositions gas use does not
// depend on position size.
func NewCTFClient(rpcURL, privateKeyHex string, chainID int64, gasLimit uint64, gasPriceBumpPct int, log *zap.Logger) (*CTFClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ctf: invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ctf: dial rpc %s: %w", rpcURL, err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &CTFClient{
		client:          client,
		privateKey:      key,
		address:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:         big.NewInt(chainID),
		gasLimit:        gasLimit,
		gasPriceBumpPct: int64(gasPriceBumpPct),
		log:             log.Named("ctf"),
	}, nil
}

// Address returns the signing wallet address.
func (c *CTFClient) Address() common.Address {
	return c.address
}

// RedeemCondition redeems all outcome tokens held for a resolved condition.
// One transaction settles both outcome slots, so the caller passes the
// condition ID once regardless of how many positions share it. Returns the
// transaction hash.
func (c *CTFClient) RedeemCondition(ctx context.Context, conditionID string) (string, error) {
	condBytes, err := hexToBytes32(conditionID)
	if err != nil {
		return "", fmt.Errorf("%w: condition id %q: %v", models.ErrInvalidArgument, conditionID, err)
	}

	// Binary market index sets: outcome slot 1 and slot 2.
	indexSets := []*big.Int{big.NewInt(1), big.NewInt(2)}

	callData, err := ctfABI.Pack("redeemPositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		condBytes,
		indexSets,
	)
	if err != nil {
		return "", fmt.Errorf("ctf: pack redeemPositions: %w", err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("ctf: nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrFeeUnavailable, err)
	}
	bumped := new(big.Int).Mul(gasPrice, big.NewInt(100+c.gasPriceBumpPct))
	bumped.Div(bumped, big.NewInt(100))

	ctfAddr := common.HexToAddress(ctfAddress)
	tx := types.NewTransaction(nonce, ctfAddr, big.NewInt(0), c.gasLimit, bumped, callData)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("ctf: sign tx: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("ctf: send tx: %w", err)
	}

	txHash := signedTx.Hash()
	c.log.Info("redeem transaction sent",
		zap.String("condition", shortCondition(conditionID)),
		zap.String("tx", txHash.Hex()))

	receiptCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, txHash)
	if err != nil {
		return txHash.Hex(), fmt.Errorf("ctf: wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash.Hex(), fmt.Errorf("%w: tx %s", models.ErrReverted, txHash.Hex())
	}

	c.log.Info("redeem confirmed",
		zap.String("condition", shortCondition(conditionID)),
		zap.String("tx", txHash.Hex()),
		zap.Uint64("gasUsed", receipt.GasUsed))
	return txHash.Hex(), nil
}

// CollateralBalance returns the wallet's USDC.e balance in USDC units.
func (c *CTFClient) CollateralBalance(ctx context.Context, wallet string) (float64, error) {
	callData, err := erc20ABI.Pack("balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return 0, err
	}

	usdc := common.HexToAddress(usdcEAddress)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &usdc,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("ctf: balanceOf call: %w", err)
	}

	vals, err := erc20ABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("ctf: unpack balanceOf: %w", err)
	}
	raw := vals[0].(*big.Int)

	// USDC has 6 decimals
	balance := new(big.Float).SetInt(raw)
	balance.Quo(balance, new(big.Float).SetFloat64(1e6))
	out, _ := balance.Float64()
	return out, nil
}

// waitForReceipt polls until the transaction is mined or ctx expires.
func (c *CTFClient) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}

func shortCondition(conditionID string) string {
	if len(conditionID) <= 12 {
		return conditionID
	}
	return conditionID[:12] + "..."
}
