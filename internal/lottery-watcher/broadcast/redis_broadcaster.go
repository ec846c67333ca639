package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/state"
	"github.com/radieske/lottery-watcher/pkg/contracts/events"
	"github.com/radieske/lottery-watcher/pkg/contracts/topics"
)

// publishTimeout limita cada PUBLISH; broadcast é melhor-esforço.
const publishTimeout = 500 * time.Millisecond

// RedisBroadcaster repassa cada publicação do StateStore pro canal Redis
// Pub/Sub correspondente, de onde o gateway WebSocket (fora deste serviço)
// faz o fan-out pros browsers. Falha de publish é logada e descartada: o
// consumer se recupera no próximo snapshot.
type RedisBroadcaster struct {
	r   *redis.Client
	log *zap.Logger
}

func NewRedisBroadcaster(r *redis.Client, log *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, log: log}
}

// channelMap liga os canais do store aos canais Redis.
var channelMap = map[state.Channel]string{
	state.ChannelRound:        topics.RoundBroadcast,
	state.ChannelParticipants: topics.ParticipantsBroadcast,
	state.ChannelConfig:       topics.ConfigBroadcast,
	state.ChannelHistory:      topics.HistoryBroadcast,
	state.ChannelActivity:     topics.ActivityBroadcast,
}

// Attach assina todos os canais do store e devolve a função que desfaz
// todas as assinaturas.
func (b *RedisBroadcaster) Attach(store *state.Store) func() {
	unsubs := make([]func(), 0, len(channelMap))
	for ch, redisChannel := range channelMap {
		target := redisChannel
		unsubs = append(unsubs, store.Subscribe(ch, func(u state.Update) {
			b.forward(target, u)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (b *RedisBroadcaster) forward(redisChannel string, u state.Update) {
	msg := events.ChannelUpdate{
		Channel:  string(u.Channel),
		Payload:  u.Payload,
		TsUnixMs: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn("broadcast marshal failed", zap.String("channel", string(u.Channel)), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.r.Publish(ctx, redisChannel, payload).Err(); err != nil {
		b.log.Warn("broadcast publish failed", zap.String("channel", redisChannel), zap.Error(err))
	}
}
