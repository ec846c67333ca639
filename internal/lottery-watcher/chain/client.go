package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
)

// receiptPollInterval é a cadência do poll de confirmação em Await.
const receiptPollInterval = 2 * time.Second

// Client implementa Ledger em cima de um nó Ethereum via ethclient.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64
	log      *zap.Logger
}

// Dial conecta no endpoint RPC e prepara o client do contrato. A chave do
// operador só é necessária se o processo for submeter settlement (vazia =
// client somente-leitura; SubmitDraw/SubmitRefund falham).
func Dial(ctx context.Context, rpcURL, contractHex, operatorKeyHex string, gasLimit uint64, log *zap.Logger) (*Client, error) {
	trimmed := strings.TrimSpace(rpcURL)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	if !common.IsHexAddress(contractHex) {
		return nil, fmt.Errorf("chain: invalid contract address %q", contractHex)
	}

	eth, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	c := &Client{
		eth:      eth,
		contract: common.HexToAddress(contractHex),
		chainID:  chainID,
		gasLimit: gasLimit,
		log:      log,
	}

	if keyHex := strings.TrimPrefix(strings.TrimSpace(operatorKeyHex), "0x"); keyHex != "" {
		key, err := gethcrypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parse operator key: %w", err)
		}
		c.key = key
		c.from = gethcrypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Close libera a conexão RPC.
func (c *Client) Close() {
	c.eth.Close()
}

// call empacota, executa eth_call no contrato e desempacota os retornos.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := lotteryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := lotteryABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// CurrentRound lê o snapshot do round ativo direto do contrato.
func (c *Client) CurrentRound(ctx context.Context) (model.RoundSnapshot, error) {
	out, err := c.call(ctx, "getCurrentRound")
	if err != nil {
		return model.RoundSnapshot{}, err
	}
	if len(out) != 12 {
		return model.RoundSnapshot{}, fmt.Errorf("getCurrentRound: unexpected arity %d", len(out))
	}
	return model.RoundSnapshot{
		RoundID:          out[0].(*big.Int).Uint64(),
		State:            model.RoundState(out[1].(uint8)),
		StartTime:        out[2].(*big.Int).Int64(),
		EndTime:          out[3].(*big.Int).Int64(),
		MinDrawTime:      out[4].(*big.Int).Int64(),
		MaxDrawTime:      out[5].(*big.Int).Int64(),
		TotalPot:         out[6].(*big.Int),
		ParticipantCount: out[7].(*big.Int).Uint64(),
		Winner:           out[8].(common.Address),
		CommissionRate:   out[9].(*big.Int).Uint64(),
		CommissionAmount: out[10].(*big.Int),
		WinnerPrize:      out[11].(*big.Int),
	}, nil
}

// Participants lê o agregado por endereço do round atual. O contrato devolve
// três arrays paralelos.
func (c *Client) Participants(ctx context.Context) ([]model.ParticipantAggregate, error) {
	out, err := c.call(ctx, "getParticipants")
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("getParticipants: unexpected arity %d", len(out))
	}
	players := out[0].([]common.Address)
	amounts := out[1].([]*big.Int)
	counts := out[2].([]*big.Int)
	if len(players) != len(amounts) || len(players) != len(counts) {
		return nil, fmt.Errorf("getParticipants: mismatched array lengths %d/%d/%d", len(players), len(amounts), len(counts))
	}

	list := make([]model.ParticipantAggregate, len(players))
	for i := range players {
		list[i] = model.ParticipantAggregate{
			Address:     players[i],
			TotalAmount: amounts[i],
			BetCount:    counts[i].Uint64(),
		}
	}
	return list, nil
}

// LotteryConfig lê os parâmetros da loteria.
func (c *Client) LotteryConfig(ctx context.Context) (model.ConfigSnapshot, error) {
	out, err := c.call(ctx, "getConfig")
	if err != nil {
		return model.ConfigSnapshot{}, err
	}
	if len(out) != 6 {
		return model.ConfigSnapshot{}, fmt.Errorf("getConfig: unexpected arity %d", len(out))
	}
	return model.ConfigSnapshot{
		CommissionRate:  out[0].(*big.Int).Uint64(),
		MinBet:          out[1].(*big.Int),
		BettingDuration: out[2].(*big.Int).Int64(),
		MinDrawDelay:    out[3].(*big.Int).Int64(),
		MaxDrawDelay:    out[4].(*big.Int).Int64(),
		MinParticipants: out[5].(*big.Int).Uint64(),
	}, nil
}

// LatestBlock devolve o número do último bloco do nó.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch latest block: %w", err)
	}
	return n, nil
}

// Logs busca os logs do contrato no intervalo e decodifica os conhecidos.
func (c *Client) Logs(ctx context.Context, from, to uint64) ([]model.RawEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	events := make([]model.RawEvent, 0, len(logs))
	for _, l := range logs {
		ev, ok, err := DecodeLog(l)
		if err != nil {
			if c.log != nil {
				c.log.Warn("undecodable contract log",
					zap.Uint64("block", l.BlockNumber),
					zap.Uint("log_index", l.Index),
					zap.Error(err))
			}
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// submit assina e envia uma tx legada chamando o método dado no contrato.
func (c *Client) submit(ctx context.Context, method string, roundID uint64) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("chain: operator key not configured")
	}

	data, err := lotteryABI.Pack(method, new(big.Int).SetUint64(roundID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign %s: %w", method, err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send %s: %w", method, err)
	}
	return signed.Hash(), nil
}

// SubmitDraw submete o sorteio do round.
func (c *Client) SubmitDraw(ctx context.Context, roundID uint64) (common.Hash, error) {
	return c.submit(ctx, "drawWinner", roundID)
}

// SubmitRefund submete o estorno do round.
func (c *Client) SubmitRefund(ctx context.Context, roundID uint64) (common.Hash, error) {
	return c.submit(ctx, "refundRound", roundID)
}

// Await faz poll do recibo até a tx minerar ou o context expirar.
func (c *Client) Await(ctx context.Context, tx common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, tx)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: tx %s reverted", ErrTxRejected, tx.Hex())
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("fetch receipt %s: %w", tx.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
