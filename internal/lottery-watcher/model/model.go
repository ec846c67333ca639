package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RoundState espelha o enum de estado do contrato da loteria.
type RoundState uint8

const (
	StateWaiting RoundState = iota
	StateBetting
	StateDrawing
	StateCompleted
	StateRefunded
)

// Terminal indica se o round chegou a um estado final (nunca mais muda).
func (s RoundState) Terminal() bool {
	return s == StateCompleted || s == StateRefunded
}

func (s RoundState) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateBetting:
		return "BETTING"
	case StateDrawing:
		return "DRAWING"
	case StateCompleted:
		return "COMPLETED"
	case StateRefunded:
		return "REFUNDED"
	default:
		return "UNKNOWN"
	}
}

// RoundSnapshot é a foto completa do round atual conforme lida do contrato.
// RoundID 0 significa "nenhum round criado ainda".
type RoundSnapshot struct {
	RoundID          uint64
	State            RoundState
	StartTime        int64 // unix segundos
	EndTime          int64
	MinDrawTime      int64
	MaxDrawTime      int64
	TotalPot         *big.Int // menor unidade do ledger (wei)
	ParticipantCount uint64
	Winner           common.Address
	CommissionRate   uint64 // basis points
	CommissionAmount *big.Int
	WinnerPrize      *big.Int
}

// Equal compara campo a campo; usado pelo StateStore pra suprimir publicações
// repetidas quando o poll devolve o mesmo estado.
func (r RoundSnapshot) Equal(o RoundSnapshot) bool {
	return r.RoundID == o.RoundID &&
		r.State == o.State &&
		r.StartTime == o.StartTime &&
		r.EndTime == o.EndTime &&
		r.MinDrawTime == o.MinDrawTime &&
		r.MaxDrawTime == o.MaxDrawTime &&
		bigEqual(r.TotalPot, o.TotalPot) &&
		r.ParticipantCount == o.ParticipantCount &&
		r.Winner == o.Winner &&
		r.CommissionRate == o.CommissionRate &&
		bigEqual(r.CommissionAmount, o.CommissionAmount) &&
		bigEqual(r.WinnerPrize, o.WinnerPrize)
}

// Pot devolve o pote como big.Int não-nulo (nil conta como zero).
func (r RoundSnapshot) Pot() *big.Int {
	if r.TotalPot == nil {
		return new(big.Int)
	}
	return r.TotalPot
}

// ParticipantAggregate é o total apostado por endereço dentro do round atual.
// A lista inteira é substituída a cada ciclo de poll, nunca atualizada
// incrementalmente.
type ParticipantAggregate struct {
	Address     common.Address
	TotalAmount *big.Int
	BetCount    uint64
}

// Equal compara um agregado individual.
func (p ParticipantAggregate) Equal(o ParticipantAggregate) bool {
	return p.Address == o.Address &&
		bigEqual(p.TotalAmount, o.TotalAmount) &&
		p.BetCount == o.BetCount
}

// ParticipantsEqual compara as listas já ordenadas por endereço.
func ParticipantsEqual(a, b []ParticipantAggregate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// ConfigSnapshot são os parâmetros da loteria definidos no contrato.
// Muda raramente; o syncer atualiza numa cadência mais lenta.
type ConfigSnapshot struct {
	CommissionRate  uint64 // basis points
	MinBet          *big.Int
	BettingDuration int64 // segundos
	MinDrawDelay    int64
	MaxDrawDelay    int64
	MinParticipants uint64
}

// Equal compara campo a campo.
func (c ConfigSnapshot) Equal(o ConfigSnapshot) bool {
	return c.CommissionRate == o.CommissionRate &&
		bigEqual(c.MinBet, o.MinBet) &&
		c.BettingDuration == o.BettingDuration &&
		c.MinDrawDelay == o.MinDrawDelay &&
		c.MaxDrawDelay == o.MaxDrawDelay &&
		c.MinParticipants == o.MinParticipants
}

// HistoryEntry é o snapshot terminal de um round, guardado quando o syncer
// observa a transição pra COMPLETED/REFUNDED.
type HistoryEntry struct {
	Round RoundSnapshot
}

func bigEqual(a, b *big.Int) bool {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b) == 0
}
