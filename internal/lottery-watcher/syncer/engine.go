package syncer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/chain"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/state"
)

// eventKey é a identidade de um log do contrato, usada pra deduplicação.
type eventKey struct {
	block uint64
	index uint
}

// Engine é o único escritor do StateStore e o único leitor agendado do
// ledger. Três loops independentes rodam em cadências próprias: round +
// participantes, config e event log — um fetch lento num loop nunca atrasa
// os outros.
//
// Callbacks On* alimentam métricas, no padrão dos workers da plataforma.
type Engine struct {
	Log    *zap.Logger
	Ledger chain.Ledger
	Store  *state.Store

	RoundInterval  time.Duration // default 2s
	ConfigInterval time.Duration // default 15s
	LogInterval    time.Duration // default 2s
	CallTimeout    time.Duration // timeout por chamada RPC
	Lookback       uint64        // blocos de catch-up na primeira varredura de logs
	DedupCap       int           // tamanho do conjunto de eventos recentes

	OnCycle    func(loop string)       // métricas: ciclo concluído
	OnError    func(stage string)      // métricas: erro por estágio
	OnActivity func(model.ActivityEntry) // sink opcional (kafka)

	Now func() time.Time // injetável pra teste; default time.Now

	// cursor/dedup são tocados só pelo loop de logs.
	cursor   uint64
	seeded   bool
	seen     map[eventKey]struct{}
	seenFIFO []eventKey
}

const defaultDedupCap = 4096

// Run dispara os três loops e bloqueia até o context cancelar.
func (e *Engine) Run(ctx context.Context) {
	if e.RoundInterval <= 0 {
		e.RoundInterval = 2 * time.Second
	}
	if e.ConfigInterval <= 0 {
		e.ConfigInterval = 15 * time.Second
	}
	if e.LogInterval <= 0 {
		e.LogInterval = 2 * time.Second
	}
	if e.CallTimeout <= 0 {
		e.CallTimeout = 5 * time.Second
	}

	done := make(chan struct{}, 3)
	go func() { e.loop(ctx, "round", e.RoundInterval, e.syncRound); done <- struct{}{} }()
	go func() { e.loop(ctx, "config", e.ConfigInterval, e.syncConfig); done <- struct{}{} }()
	go func() { e.loop(ctx, "logs", e.LogInterval, e.syncLogs); done <- struct{}{} }()
	for i := 0; i < 3; i++ {
		<-done
	}
}

// Bootstrap roda um ciclo síncrono de config + round antes dos loops, pra
// deixar o store quente antes dos consumers atacharem. Falha aqui não é
// fatal: o primeiro tick dos loops cobre.
func (e *Engine) Bootstrap(ctx context.Context) {
	e.syncConfig(ctx)
	e.syncRound(ctx)
}

// loop roda a função na cadência dada até o context cancelar. Qualquer falha
// já foi logada dentro do ciclo — aqui é só agenda.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, cycle func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.Log.Info("sync loop stopped", zap.String("loop", name))
			return
		case <-ticker.C:
			cycle(ctx)
			if e.OnCycle != nil {
				e.OnCycle(name)
			}
		}
	}
}

// syncRound busca round + participantes e aplica no store. Falha transiente:
// loga e espera o próximo tick — o último estado bom continua publicado,
// nunca se inventa dado.
func (e *Engine) syncRound(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	round, err := e.Ledger.CurrentRound(callCtx)
	cancel()
	if err != nil {
		e.fail("round_fetch", "current round fetch failed", err)
		return
	}
	if round.RoundID == 0 {
		// contrato ainda sem round; nada a publicar
		return
	}

	// transição terminal vira HistoryEntry antes de sobrescrever o round
	prev := e.Store.Round()
	if round.State.Terminal() && round.RoundID >= prev.RoundID && (prev.RoundID != round.RoundID || !prev.State.Terminal()) {
		e.Store.AppendHistory(model.HistoryEntry{Round: round})
	}

	if err := e.Store.SetRound(round); err != nil {
		if errors.Is(err, state.ErrStaleRound) {
			e.Log.Error("round snapshot violates ordering, rejected",
				zap.Uint64("round_id", round.RoundID),
				zap.String("state", round.State.String()),
				zap.Error(err))
			if e.OnError != nil {
				e.OnError("round_invariant")
			}
			return
		}
		e.fail("round_store", "round store update failed", err)
		return
	}

	callCtx, cancel = context.WithTimeout(ctx, e.CallTimeout)
	parts, err := e.Ledger.Participants(callCtx)
	cancel()
	if err != nil {
		e.fail("participants_fetch", "participants fetch failed", err)
		return
	}
	e.Store.SyncParticipants(parts)
}

// syncConfig atualiza a config da loteria (cadência lenta).
func (e *Engine) syncConfig(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	cfg, err := e.Ledger.LotteryConfig(callCtx)
	cancel()
	if err != nil {
		e.fail("config_fetch", "config fetch failed", err)
		return
	}
	e.Store.SetConfig(cfg)
}

// syncLogs varre os logs do contrato desde o cursor, deduplica por
// (block, log_index) e gera uma ActivityEntry por evento inédito. O cursor
// só avança depois do lote inteiro processado: reentrega upstream é barata
// porque o dedup torna o downstream idempotente.
func (e *Engine) syncLogs(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	latest, err := e.Ledger.LatestBlock(callCtx)
	cancel()
	if err != nil {
		e.fail("logs_head", "latest block fetch failed", err)
		return
	}

	if !e.seeded {
		// primeira varredura parte de latest - lookback pra limitar o catch-up
		if latest > e.Lookback {
			e.cursor = latest - e.Lookback
		} else {
			e.cursor = 0
		}
		e.seeded = true
	}
	if latest <= e.cursor {
		return
	}

	from, to := e.cursor+1, latest
	callCtx, cancel = context.WithTimeout(ctx, e.CallTimeout)
	events, err := e.Ledger.Logs(callCtx, from, to)
	cancel()
	if err != nil {
		e.fail("logs_fetch", "log range fetch failed", err)
		return
	}

	now := e.now()
	for _, ev := range events {
		key := eventKey{block: ev.BlockNumber, index: ev.LogIndex}
		if e.isSeen(key) {
			continue
		}
		e.markSeen(key)

		entry := model.NewActivityEntry(ev, now)
		e.Store.AppendActivity(entry)
		if e.OnActivity != nil {
			e.OnActivity(entry)
		}
	}
	e.cursor = to
}

func (e *Engine) fail(stage, msg string, err error) {
	e.Log.Warn(msg, zap.String("stage", stage), zap.Error(err))
	if e.OnError != nil {
		e.OnError(stage)
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) isSeen(k eventKey) bool {
	_, ok := e.seen[k]
	return ok
}

// markSeen guarda a identidade num conjunto limitado (FIFO): protege contra
// reentrega de reorg ou de ranges sobrepostos sem crescer sem limite.
func (e *Engine) markSeen(k eventKey) {
	if e.seen == nil {
		e.seen = make(map[eventKey]struct{})
	}
	limit := e.DedupCap
	if limit <= 0 {
		limit = defaultDedupCap
	}
	e.seen[k] = struct{}{}
	e.seenFIFO = append(e.seenFIFO, k)
	for len(e.seenFIFO) > limit {
		old := e.seenFIFO[0]
		e.seenFIFO = e.seenFIFO[1:]
		delete(e.seen, old)
	}
}
