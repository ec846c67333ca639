package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifica o tipo de evento emitido pelo contrato.
type EventKind string

const (
	EventBetPlaced     EventKind = "bet_placed"
	EventRoundCreated  EventKind = "round_created"
	EventWinnerDrawn   EventKind = "winner_drawn"
	EventRoundRefunded EventKind = "round_refunded"
)

// RawEvent é um log do contrato já decodificado. A identidade
// (BlockNumber, LogIndex) é usada pra deduplicar reentregas.
type RawEvent struct {
	BlockNumber uint64
	LogIndex    uint
	Kind        EventKind
	RoundID     uint64
	Player      common.Address // bet_placed
	Winner      common.Address // winner_drawn
	Amount      *big.Int       // bet_placed: valor da aposta
	Prize       *big.Int       // winner_drawn: prêmio líquido
	TotalPot    *big.Int       // bet_placed / round_refunded
}

// ActivityEntry é um item do feed de atividade, derivado de um RawEvent.
// Imutável depois de criado.
type ActivityEntry struct {
	Kind        EventKind
	RoundID     uint64
	Player      common.Address
	Amount      *big.Int
	BlockNumber uint64
	LogIndex    uint
	Timestamp   time.Time
	Text        string
}

// NewActivityEntry monta o item do feed com o texto legível padrão.
func NewActivityEntry(ev RawEvent, now time.Time) ActivityEntry {
	entry := ActivityEntry{
		Kind:        ev.Kind,
		RoundID:     ev.RoundID,
		BlockNumber: ev.BlockNumber,
		LogIndex:    ev.LogIndex,
		Timestamp:   now,
	}
	switch ev.Kind {
	case EventBetPlaced:
		entry.Player = ev.Player
		entry.Amount = ev.Amount
		entry.Text = fmt.Sprintf("bet of %s placed by %s on round %d", weiString(ev.Amount), short(ev.Player), ev.RoundID)
	case EventRoundCreated:
		entry.Text = fmt.Sprintf("round %d created", ev.RoundID)
	case EventWinnerDrawn:
		entry.Player = ev.Winner
		entry.Amount = ev.Prize
		entry.Text = fmt.Sprintf("round %d completed, winner %s takes %s", ev.RoundID, short(ev.Winner), weiString(ev.Prize))
	case EventRoundRefunded:
		entry.Amount = ev.TotalPot
		entry.Text = fmt.Sprintf("round %d refunded (%s returned)", ev.RoundID, weiString(ev.TotalPot))
	default:
		entry.Text = fmt.Sprintf("event %s on round %d", ev.Kind, ev.RoundID)
	}
	return entry
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0 wei"
	}
	return v.String() + " wei"
}

func short(a common.Address) string {
	hex := a.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}
