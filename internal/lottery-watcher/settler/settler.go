package settler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/chain"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/state"
)

// Action é a decisão de settlement pra um round.
type Action string

const (
	ActionNone   Action = ""
	ActionDraw   Action = "draw"
	ActionRefund Action = "refund"
)

// Settler é a máquina reativa de settlement. Não tem loop de timer próprio
// pro round: é acordado pelas notificações de round do StateStore, mais um
// tick grosso que cobre janelas sem atividade nova na chain.
//
// Garantia central: no máximo uma ação em voo por round_id, mesmo com
// notificações em rajada — a flag inFlight é checada-e-setada antes de
// qualquer submissão. A flag limpa em falha (retry no próximo gatilho) e
// quando o round é observado terminal pelo syncer.
type Settler struct {
	Log    *zap.Logger
	Ledger chain.Ledger
	Store  *state.Store

	WakeInterval  time.Duration // default 10s
	SubmitTimeout time.Duration // timeout do envio da tx
	AwaitTimeout  time.Duration // timeout da confirmação

	OnAttempt func(action string)          // métricas: submissão iniciada
	OnResult  func(action, outcome string) // métricas: submit_error|rejected|timeout|confirmed

	Now func() time.Time // injetável pra teste

	mu       sync.Mutex
	inFlight map[uint64]bool

	kick chan struct{}
}

// Run assina o canal de round e processa gatilhos até o context cancelar.
func (s *Settler) Run(ctx context.Context) {
	if s.WakeInterval <= 0 {
		s.WakeInterval = 10 * time.Second
	}
	if s.SubmitTimeout <= 0 {
		s.SubmitTimeout = 15 * time.Second
	}
	if s.AwaitTimeout <= 0 {
		s.AwaitTimeout = 90 * time.Second
	}
	s.kick = make(chan struct{}, 1)

	unsubscribe := s.Store.Subscribe(state.ChannelRound, func(state.Update) {
		select {
		case s.kick <- struct{}{}:
		default: // avaliação já pendente; gatilhos colapsam
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(s.WakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("settler stopped")
			return
		case <-s.kick:
			s.Evaluate(ctx)
		case <-ticker.C:
			s.Evaluate(ctx)
		}
	}
}

// Evaluate aplica a tabela de decisão ao round atual e dispara a submissão
// quando cabe. A submissão roda em goroutine própria pra não segurar os
// próximos gatilhos; a flag inFlight é quem serializa.
func (s *Settler) Evaluate(ctx context.Context) {
	round := s.Store.Round()
	if round.RoundID == 0 {
		return
	}
	if round.State.Terminal() {
		// settlement observado na chain fecha o ciclo deste round
		s.clear(round.RoundID)
		return
	}
	if round.State != model.StateBetting {
		// WAITING ainda não abriu; DRAWING é ação de outro ator em andamento
		return
	}

	cfg, ok := s.Store.Config()
	if !ok {
		// sem config sincronizada não dá pra julgar o mínimo de participantes
		return
	}

	now := s.now().Unix()
	action := decide(round, cfg, now)
	if action == ActionNone {
		return
	}

	s.mu.Lock()
	if s.inFlight == nil {
		s.inFlight = make(map[uint64]bool)
	}
	if s.inFlight[round.RoundID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[round.RoundID] = true
	s.mu.Unlock()

	go s.submit(ctx, round.RoundID, action)
}

// decide é a tabela de decisão pura, separada pra teste direto:
//   - antes de min_draw_time: nada;
//   - dentro da janela, com mínimo de participantes e pote: sorteio;
//   - janela expirada (inclui mínimo não atingido no fechamento): estorno.
func decide(round model.RoundSnapshot, cfg model.ConfigSnapshot, now int64) Action {
	if now < round.MinDrawTime {
		return ActionNone
	}
	if now > round.MaxDrawTime {
		return ActionRefund
	}
	if round.ParticipantCount >= cfg.MinParticipants && round.Pot().Sign() > 0 {
		return ActionDraw
	}
	return ActionNone
}

// submit envia a ação e espera confirmação. Sucesso não limpa a flag: quem
// confirma é o syncer observando o estado terminal — a contabilidade local
// pós-envio é melhor-esforço, nunca autoritativa. Falha limpa a flag e deixa
// o próximo gatilho reavaliar do estado corrente.
func (s *Settler) submit(ctx context.Context, roundID uint64, action Action) {
	if s.OnAttempt != nil {
		s.OnAttempt(string(action))
	}
	s.Log.Info("submitting settlement",
		zap.Uint64("round_id", roundID),
		zap.String("action", string(action)))

	submitCtx, cancel := context.WithTimeout(ctx, s.SubmitTimeout)
	var (
		tx  common.Hash
		err error
	)
	switch action {
	case ActionDraw:
		tx, err = s.Ledger.SubmitDraw(submitCtx, roundID)
	case ActionRefund:
		tx, err = s.Ledger.SubmitRefund(submitCtx, roundID)
	}
	cancel()
	if err != nil {
		s.Log.Warn("settlement submission failed",
			zap.Uint64("round_id", roundID),
			zap.String("action", string(action)),
			zap.Error(err))
		s.clear(roundID)
		s.result(action, "submit_error")
		return
	}

	awaitCtx, cancel := context.WithTimeout(ctx, s.AwaitTimeout)
	err = s.Ledger.Await(awaitCtx, tx)
	cancel()
	switch {
	case err == nil:
		// confirmada; o estado terminal chega via syncer e aí a flag limpa
		s.Log.Info("settlement confirmed on chain",
			zap.Uint64("round_id", roundID),
			zap.String("action", string(action)))
		s.result(action, "confirmed")
	case errors.Is(err, chain.ErrTxRejected):
		// o ledger recusou (janela fechou, round já resolvido): condição
		// velha — um gatilho novo reavalia do estado fresco
		s.Log.Warn("settlement rejected by ledger",
			zap.Uint64("round_id", roundID),
			zap.String("action", string(action)),
			zap.Error(err))
		s.clear(roundID)
		s.result(action, "rejected")
	default:
		s.Log.Warn("settlement confirmation timed out",
			zap.Uint64("round_id", roundID),
			zap.String("action", string(action)),
			zap.Error(err))
		s.clear(roundID)
		s.result(action, "timeout")
	}
}

func (s *Settler) clear(roundID uint64) {
	s.mu.Lock()
	delete(s.inFlight, roundID)
	s.mu.Unlock()
}

func (s *Settler) result(action Action, outcome string) {
	if s.OnResult != nil {
		s.OnResult(string(action), outcome)
	}
}

func (s *Settler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
