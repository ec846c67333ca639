package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
)

// Channel identifica um canal de publicação do store.
type Channel string

const (
	ChannelRound        Channel = "round"
	ChannelParticipants Channel = "participants"
	ChannelConfig       Channel = "config"
	ChannelHistory      Channel = "history"
	ChannelActivity     Channel = "activity"
)

// ErrStaleRound sinaliza violação de invariante: round_id regredindo ou
// round terminal mudando de novo. O update é rejeitado e não publicado.
var ErrStaleRound = errors.New("state: stale or regressing round snapshot")

// Update é o payload entregue aos subscribers. Sempre carrega o snapshot
// completo do canal, nunca um delta — um consumer recém-conectado se
// bootstrapa com os getters e segue só com os pushes.
type Update struct {
	Channel Channel
	Payload any
}

// Handler recebe cada publicação do canal assinado.
type Handler func(Update)

// subscriber tem fila própria e goroutine própria de despacho: um consumer
// lento ou travado atrasa só a si mesmo.
type subscriber struct {
	queue chan Update
	done  chan struct{}
}

// Store é o cache autoritativo em memória do estado da loteria, com
// publish/subscribe por canal. O syncer é o único escritor; todo o resto
// só lê via getters ou assina canais.
type Store struct {
	log *zap.Logger

	roundMu  sync.RWMutex
	round    model.RoundSnapshot
	hasRound bool

	partMu       sync.RWMutex
	participants []model.ParticipantAggregate

	cfgMu  sync.RWMutex
	cfg    model.ConfigSnapshot
	hasCfg bool

	histMu  sync.RWMutex
	history []model.HistoryEntry
	histCap int

	actMu    sync.RWMutex
	activity []model.ActivityEntry
	actCap   int

	subMu  sync.RWMutex
	subs   map[Channel]map[int]*subscriber
	nextID int
}

// subscriberQueueCap limita a fila de cada subscriber; estourou, descarta o
// update mais antigo (todo payload é snapshot completo, então perder um
// intermediário não corrompe nada).
const subscriberQueueCap = 64

// New cria um store vazio com as capacidades de histórico e atividade dadas.
func New(log *zap.Logger, historyCap, activityCap int) *Store {
	if historyCap <= 0 {
		historyCap = 10
	}
	if activityCap <= 0 {
		activityCap = 50
	}
	return &Store{
		log:     log,
		histCap: historyCap,
		actCap:  activityCap,
		subs:    make(map[Channel]map[int]*subscriber),
	}
}

// Subscribe registra um handler no canal e devolve a função de unsubscribe.
// Pode ser chamado/cancelado concorrentemente com publicações.
func (s *Store) Subscribe(ch Channel, h Handler) func() {
	sub := &subscriber{
		queue: make(chan Update, subscriberQueueCap),
		done:  make(chan struct{}),
	}

	s.subMu.Lock()
	if s.subs[ch] == nil {
		s.subs[ch] = make(map[int]*subscriber)
	}
	id := s.nextID
	s.nextID++
	s.subs[ch][id] = sub
	s.subMu.Unlock()

	go s.dispatch(ch, sub, h)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[ch], id)
			s.subMu.Unlock()
			close(sub.done)
		})
	}
}

// dispatch consome a fila do subscriber; um panic no handler derruba só
// esse subscriber, nunca o publisher.
func (s *Store) dispatch(ch Channel, sub *subscriber, h Handler) {
	defer func() {
		if r := recover(); r != nil && s.log != nil {
			s.log.Error("subscriber handler panicked", zap.String("channel", string(ch)), zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-sub.done:
			return
		case u := <-sub.queue:
			h(u)
		}
	}
}

// publish entrega o update pra todos os subscribers do canal sem bloquear:
// fila cheia descarta o mais antigo e tenta de novo.
func (s *Store) publish(ch Channel, payload any) {
	u := Update{Channel: ch, Payload: payload}

	s.subMu.RLock()
	targets := make([]*subscriber, 0, len(s.subs[ch]))
	for _, sub := range s.subs[ch] {
		targets = append(targets, sub)
	}
	s.subMu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- u:
		default:
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- u:
			default:
			}
		}
	}
}

// SetRound substitui o snapshot do round atual.
//
// Regras:
//   - snapshot idêntico ao guardado não publica nada (defesa contra tempestade
//     de publicações do poll frequente);
//   - round_id menor que o guardado é rejeitado com ErrStaleRound;
//   - round terminal não pode mudar de novo (mesmo round_id) nem regredir de
//     estado.
func (s *Store) SetRound(snap model.RoundSnapshot) error {
	s.roundMu.Lock()
	cur := s.round
	if s.hasRound {
		if snap.RoundID < cur.RoundID {
			s.roundMu.Unlock()
			return fmt.Errorf("%w: round_id %d after %d", ErrStaleRound, snap.RoundID, cur.RoundID)
		}
		if snap.RoundID == cur.RoundID {
			if snap.Equal(cur) {
				s.roundMu.Unlock()
				return nil
			}
			if cur.State.Terminal() {
				s.roundMu.Unlock()
				return fmt.Errorf("%w: round %d already terminal (%s)", ErrStaleRound, cur.RoundID, cur.State)
			}
			if snap.State < cur.State {
				s.roundMu.Unlock()
				return fmt.Errorf("%w: round %d state %s after %s", ErrStaleRound, cur.RoundID, snap.State, cur.State)
			}
		}
	}
	s.round = snap
	s.hasRound = true
	s.roundMu.Unlock()

	s.publish(ChannelRound, snap)
	return nil
}

// Round devolve o snapshot atual (zero value se nada foi sincronizado ainda).
func (s *Store) Round() model.RoundSnapshot {
	s.roundMu.RLock()
	defer s.roundMu.RUnlock()
	return s.round
}

// SyncParticipants substitui a lista inteira de participantes do round.
// Publica só se o conjunto mudou. A lista é ordenada por endereço pra
// comparação e entrega determinísticas.
func (s *Store) SyncParticipants(list []model.ParticipantAggregate) {
	sorted := make([]model.ParticipantAggregate, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Address.Cmp(sorted[j].Address) < 0
	})

	s.partMu.Lock()
	if model.ParticipantsEqual(s.participants, sorted) {
		s.partMu.Unlock()
		return
	}
	s.participants = sorted
	s.partMu.Unlock()

	s.publish(ChannelParticipants, sorted)
}

// Participants devolve uma cópia da lista atual.
func (s *Store) Participants() []model.ParticipantAggregate {
	s.partMu.RLock()
	defer s.partMu.RUnlock()
	out := make([]model.ParticipantAggregate, len(s.participants))
	copy(out, s.participants)
	return out
}

// SetConfig substitui a config da loteria; publica só quando muda.
func (s *Store) SetConfig(cfg model.ConfigSnapshot) {
	s.cfgMu.Lock()
	if s.hasCfg && cfg.Equal(s.cfg) {
		s.cfgMu.Unlock()
		return
	}
	s.cfg = cfg
	s.hasCfg = true
	s.cfgMu.Unlock()

	s.publish(ChannelConfig, cfg)
}

// Config devolve a config atual e se ela já foi sincronizada alguma vez.
func (s *Store) Config() (model.ConfigSnapshot, bool) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg, s.hasCfg
}

// AppendHistory guarda o snapshot terminal de um round. Capacidade cheia
// descarta o mais antigo. Round já presente no histórico é ignorado (o
// append acontece exatamente uma vez, na transição pro estado terminal).
func (s *Store) AppendHistory(entry model.HistoryEntry) {
	s.histMu.Lock()
	for _, h := range s.history {
		if h.Round.RoundID == entry.Round.RoundID {
			s.histMu.Unlock()
			return
		}
	}
	s.history = append(s.history, entry)
	if len(s.history) > s.histCap {
		s.history = s.history[len(s.history)-s.histCap:]
	}
	snapshot := make([]model.HistoryEntry, len(s.history))
	copy(snapshot, s.history)
	s.histMu.Unlock()

	s.publish(ChannelHistory, snapshot)
}

// History devolve uma cópia do histórico, do mais antigo pro mais recente.
func (s *Store) History() []model.HistoryEntry {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	out := make([]model.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// AppendActivity adiciona um item ao feed de atividade (ring buffer:
// estourou a capacidade, o mais antigo sai).
func (s *Store) AppendActivity(entry model.ActivityEntry) {
	s.actMu.Lock()
	s.activity = append(s.activity, entry)
	if len(s.activity) > s.actCap {
		s.activity = s.activity[len(s.activity)-s.actCap:]
	}
	snapshot := make([]model.ActivityEntry, len(s.activity))
	copy(snapshot, s.activity)
	s.actMu.Unlock()

	s.publish(ChannelActivity, snapshot)
}

// Activity devolve uma cópia do feed, do mais antigo pro mais recente.
func (s *Store) Activity() []model.ActivityEntry {
	s.actMu.RLock()
	defer s.actMu.RUnlock()
	out := make([]model.ActivityEntry, len(s.activity))
	copy(out, s.activity)
	return out
}
