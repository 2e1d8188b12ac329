package ethereum

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"ZKCipherAI/internal/ledger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// anchorABIJSON covers the single anchor method and its event. The contract
// stores nothing beyond the event log, so the event is the source of truth
// for IsAnchored.
const anchorABIJSON = `[
  {"type":"function","name":"anchor","stateMutability":"nonpayable","inputs":[
    {"name":"proofKey","type":"bytes32"},
    {"name":"circuitId","type":"string"},
    {"name":"signalsDigest","type":"bytes32"}],"outputs":[]},
  {"type":"event","name":"Anchored","anonymous":false,"inputs":[
    {"name":"proofKey","type":"bytes32","indexed":true},
    {"name":"signalsDigest","type":"bytes32","indexed":false}]}
]`

const (
	anchorGasLimit = 200_000
	sendAttempts   = 3
	sendBackoff    = 500 * time.Millisecond
)

var (
	abiOnce   sync.Once
	anchorABI abi.ABI
	abiParse  error
)

func contractABI() (abi.ABI, error) {
	abiOnce.Do(func() {
		anchorABI, abiParse = abi.JSON(strings.NewReader(anchorABIJSON))
	})
	return anchorABI, abiParse
}

// Config describes how to construct an EVM anchor client.
type Config struct {
	Name           string
	RPCURL         string
	AnchorContract string
	PrivateKeyHex  string
	ChainID        int64
	Notes          string
}

// Client implements ledger.Client against an EVM compatible chain. The
// anchor contract emits an Anchored event keyed by the keccak of the proof
// hash, which keeps anchor lookups to a single eth_getLogs call.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	contract  common.Address
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use
// client. A missing private key yields a read-only client: IsAnchored and
// GetTransactionStatus work, SubmitAnchor returns LEDGER_NO_SIGNER.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	contract := strings.TrimSpace(cfg.AnchorContract)
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid anchor contract address: %q", contract)
	}
	if _, err := contractABI(); err != nil {
		return nil, fmt.Errorf("parse anchor abi: %w", err)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	c := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		contract:  common.HexToAddress(contract),
	}

	if keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"); keyHex != "" {
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("parse anchor signing key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	} else {
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("resolve chain id: %w", err)
		}
		c.chainID = chainID
	}
	return c, nil
}

// Close releases the network connection held by the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	return nil
}

// proofKey derives the indexed event topic for a proof hash.
func proofKey(proofHash string) common.Hash {
	return crypto.Keccak256Hash([]byte(proofHash))
}

// signalsDigest hashes the canonical JSON encoding of the public signals.
// json.Marshal sorts map keys, so equal signal sets digest equally.
func signalsDigest(signals map[string]any) ([32]byte, error) {
	raw, err := json.Marshal(signals)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode public signals: %w", err)
	}
	return sha256.Sum256(raw), nil
}

// SubmitAnchor signs and sends an anchor transaction. Transient send
// failures are retried a fixed number of times with a fixed delay; the
// caller decides whether and how long to wait for confirmation.
func (c *Client) SubmitAnchor(ctx context.Context, proofHash, circuitID string, publicSignals map[string]any) (*ledger.AnchorReceipt, error) {
	if c.key == nil {
		return nil, ledger.ErrNoSigner
	}

	parsed, err := contractABI()
	if err != nil {
		return nil, err
	}
	digest, err := signalsDigest(publicSignals)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("anchor", [32]byte(proofKey(proofHash)), circuitID, digest)
	if err != nil {
		return nil, fmt.Errorf("pack anchor call: %w", err)
	}

	var txHash common.Hash
	send := func() error {
		nonce, err := c.eth.PendingNonceAt(ctx, c.from)
		if err != nil {
			return fmt.Errorf("fetch pending nonce: %w", err)
		}
		gasPrice, err := c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("fetch gas price: %w", err)
		}
		tx := coretypes.NewTransaction(nonce, c.contract, big.NewInt(0), anchorGasLimit, gasPrice, data)
		signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.key)
		if err != nil {
			return fmt.Errorf("sign anchor transaction: %w", err)
		}
		if err := c.eth.SendTransaction(ctx, signed); err != nil {
			return fmt.Errorf("send anchor transaction: %w", err)
		}
		txHash = signed.Hash()
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		if lastErr = send(); lastErr == nil {
			return &ledger.AnchorReceipt{TxID: txHash.Hex()}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sendBackoff):
		}
	}
	return nil, lastErr
}

// IsAnchored checks the anchor contract's event log for the proof hash.
func (c *Client) IsAnchored(ctx context.Context, proofHash string) (*ledger.AnchorStatus, error) {
	parsed, err := contractABI()
	if err != nil {
		return nil, err
	}
	query := gethcore.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{
			{parsed.Events["Anchored"].ID},
			{proofKey(proofHash)},
		},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query anchor log: %w", err)
	}
	if len(logs) == 0 {
		return &ledger.AnchorStatus{OnChain: false}, nil
	}
	return &ledger.AnchorStatus{OnChain: true, AnchorBlock: logs[0].BlockNumber}, nil
}

// GetTransactionStatus resolves a transaction hash to a coarse status.
// An unknown hash is reported as pending so a freshly submitted anchor
// that has not reached the node yet does not read as failed.
func (c *Client) GetTransactionStatus(ctx context.Context, txID string) (string, error) {
	hash := common.HexToHash(txID)
	_, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return ledger.StatusPending, nil
		}
		return "", fmt.Errorf("look up transaction: %w", err)
	}
	if pending {
		return ledger.StatusPending, nil
	}
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return ledger.StatusPending, nil
		}
		return "", fmt.Errorf("fetch transaction receipt: %w", err)
	}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		return ledger.StatusConfirmed, nil
	}
	return ledger.StatusFailed, nil
}

var _ ledger.Client = (*Client)(nil)
