package producer

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
	sharedkafka "github.com/radieske/lottery-watcher/internal/shared/kafka"
	"github.com/radieske/lottery-watcher/pkg/contracts/events"
)

// ActivityProducer publica cada item novo do feed de atividade no Kafka,
// pra consumo de analytics/notificações fora deste serviço.
type ActivityProducer struct {
	Writer *kafka.Writer
}

func NewActivityProducer(w *kafka.Writer) *ActivityProducer {
	return &ActivityProducer{Writer: w}
}

// PublishActivity converte a entry pro contrato público e envia, com o
// round_id como chave (ordenação por partição dentro do round).
func (p *ActivityProducer) PublishActivity(ctx context.Context, entry model.ActivityEntry) error {
	e := events.Activity{
		Kind:        string(entry.Kind),
		RoundID:     entry.RoundID,
		BlockNumber: entry.BlockNumber,
		LogIndex:    entry.LogIndex,
		Text:        entry.Text,
		Ts:          entry.Timestamp,
	}
	if (entry.Player != common.Address{}) {
		e.Player = entry.Player.Hex()
	}
	if entry.Amount != nil {
		e.AmountWei = entry.Amount.String()
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return sharedkafka.WriteJSON(ctx, p.Writer, strconv.FormatUint(entry.RoundID, 10), b)
}
