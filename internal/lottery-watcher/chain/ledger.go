package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
)

// ErrTxRejected indica que o ledger recusou a ação de settlement (janela
// fechada, round já resolvido, tx revertida). Não é erro transiente: o
// chamador deve reavaliar a partir do estado atual antes de tentar de novo.
var ErrTxRejected = errors.New("chain: transaction rejected")

// Ledger é a fronteira com o contrato da loteria. Toda chamada recebe um
// context com timeout do chamador e falha com erro explícito — nunca devolve
// dado velho fingindo ser fresco.
//
// Leituras são consumidas pelo syncer; SubmitDraw/SubmitRefund/Await são
// exclusivos do settler.
type Ledger interface {
	// CurrentRound lê o snapshot do round ativo. RoundID 0 = nenhum round.
	CurrentRound(ctx context.Context) (model.RoundSnapshot, error)

	// Participants lê o agregado de apostas por endereço do round atual.
	Participants(ctx context.Context) ([]model.ParticipantAggregate, error)

	// LotteryConfig lê os parâmetros da loteria definidos no contrato.
	LotteryConfig(ctx context.Context) (model.ConfigSnapshot, error)

	// LatestBlock devolve o número do último bloco conhecido pelo nó.
	LatestBlock(ctx context.Context) (uint64, error)

	// Logs busca e decodifica os eventos do contrato no intervalo de blocos
	// (inclusivo nas duas pontas). Logs de eventos desconhecidos são pulados.
	Logs(ctx context.Context, from, to uint64) ([]model.RawEvent, error)

	// SubmitDraw submete o sorteio do round. Devolve o hash da tx enviada.
	SubmitDraw(ctx context.Context, roundID uint64) (common.Hash, error)

	// SubmitRefund submete o estorno do round.
	SubmitRefund(ctx context.Context, roundID uint64) (common.Hash, error)

	// Await bloqueia até a tx ser minerada. Devolve nil em sucesso,
	// ErrTxRejected se reverteu, ou o erro do context em timeout.
	Await(ctx context.Context, tx common.Hash) error
}
