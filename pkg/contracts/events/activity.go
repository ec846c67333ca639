package events

import "time"

// Evento publicado no tópico "lottery_activity" a cada item novo do feed.
type Activity struct {
	Kind        string    `json:"kind"` // "bet_placed" | "round_created" | "winner_drawn" | "round_refunded"
	RoundID     uint64    `json:"round_id"`
	Player      string    `json:"player,omitempty"` // endereço hex (apostador ou vencedor)
	AmountWei   string    `json:"amount_wei,omitempty"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint      `json:"log_index"`
	Text        string    `json:"text"`
	Ts          time.Time `json:"ts"`
}
