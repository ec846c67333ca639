package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
)

// DecodeLog converte um log bruto do contrato num RawEvent tipado.
// Devolve ok=false pra eventos fora da ABI conhecida (não é erro: o contrato
// pode emitir eventos que o watcher não acompanha).
func DecodeLog(l gethtypes.Log) (model.RawEvent, bool, error) {
	if len(l.Topics) == 0 {
		return model.RawEvent{}, false, nil
	}

	ev := model.RawEvent{
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}

	switch l.Topics[0] {
	case lotteryABI.Events["BetPlaced"].ID:
		if len(l.Topics) != 3 {
			return model.RawEvent{}, false, fmt.Errorf("BetPlaced: want 3 topics, got %d", len(l.Topics))
		}
		out, err := lotteryABI.Unpack("BetPlaced", l.Data)
		if err != nil {
			return model.RawEvent{}, false, fmt.Errorf("BetPlaced data: %w", err)
		}
		ev.Kind = model.EventBetPlaced
		ev.RoundID = topicUint64(l.Topics[1])
		ev.Player = common.BytesToAddress(l.Topics[2].Bytes())
		ev.Amount = out[0].(*big.Int)
		ev.TotalPot = out[1].(*big.Int)

	case lotteryABI.Events["RoundCreated"].ID:
		if len(l.Topics) != 2 {
			return model.RawEvent{}, false, fmt.Errorf("RoundCreated: want 2 topics, got %d", len(l.Topics))
		}
		ev.Kind = model.EventRoundCreated
		ev.RoundID = topicUint64(l.Topics[1])

	case lotteryABI.Events["WinnerDrawn"].ID:
		if len(l.Topics) != 3 {
			return model.RawEvent{}, false, fmt.Errorf("WinnerDrawn: want 3 topics, got %d", len(l.Topics))
		}
		out, err := lotteryABI.Unpack("WinnerDrawn", l.Data)
		if err != nil {
			return model.RawEvent{}, false, fmt.Errorf("WinnerDrawn data: %w", err)
		}
		ev.Kind = model.EventWinnerDrawn
		ev.RoundID = topicUint64(l.Topics[1])
		ev.Winner = common.BytesToAddress(l.Topics[2].Bytes())
		ev.Prize = out[0].(*big.Int)

	case lotteryABI.Events["RoundRefunded"].ID:
		if len(l.Topics) != 2 {
			return model.RawEvent{}, false, fmt.Errorf("RoundRefunded: want 2 topics, got %d", len(l.Topics))
		}
		out, err := lotteryABI.Unpack("RoundRefunded", l.Data)
		if err != nil {
			return model.RawEvent{}, false, fmt.Errorf("RoundRefunded data: %w", err)
		}
		ev.Kind = model.EventRoundRefunded
		ev.RoundID = topicUint64(l.Topics[1])
		ev.TotalPot = out[0].(*big.Int)

	default:
		return model.RawEvent{}, false, nil
	}

	return ev, true, nil
}

func topicUint64(t common.Hash) uint64 {
	return new(big.Int).SetBytes(t.Bytes()).Uint64()
}
