package syncer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/state"
)

// fakeLedger é um Ledger em memória com respostas programáveis.
type fakeLedger struct {
	mu sync.Mutex

	round    model.RoundSnapshot
	roundErr error

	parts    []model.ParticipantAggregate
	partsErr error

	cfg    model.ConfigSnapshot
	cfgErr error

	latest    uint64
	latestErr error

	logs     []model.RawEvent
	logsErr  error
	logCalls [][2]uint64
}

func (f *fakeLedger) CurrentRound(context.Context) (model.RoundSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.round, f.roundErr
}

func (f *fakeLedger) Participants(context.Context) ([]model.ParticipantAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parts, f.partsErr
}

func (f *fakeLedger) LotteryConfig(context.Context) (model.ConfigSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.cfgErr
}

func (f *fakeLedger) LatestBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.latestErr
}

func (f *fakeLedger) Logs(_ context.Context, from, to uint64) ([]model.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls = append(f.logCalls, [2]uint64{from, to})
	return f.logs, f.logsErr
}

func (f *fakeLedger) SubmitDraw(context.Context, uint64) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func (f *fakeLedger) SubmitRefund(context.Context, uint64) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func (f *fakeLedger) Await(context.Context, common.Hash) error { return nil }

func (f *fakeLedger) set(fn func(*fakeLedger)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestEngine(f *fakeLedger) (*Engine, *state.Store, *stageRecorder) {
	store := state.New(zap.NewNop(), 10, 50)
	rec := &stageRecorder{}
	e := &Engine{
		Log:         zap.NewNop(),
		Ledger:      f,
		Store:       store,
		CallTimeout: time.Second,
		Lookback:    10,
		DedupCap:    64,
		OnError:     rec.record,
		Now:         func() time.Time { return time.Unix(1_000_000, 0) },
	}
	return e, store, rec
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (r *stageRecorder) record(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *stageRecorder) has(stage string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stages {
		if s == stage {
			return true
		}
	}
	return false
}

func bettingRound(id uint64) model.RoundSnapshot {
	return model.RoundSnapshot{
		RoundID:          id,
		State:            model.StateBetting,
		MinDrawTime:      1_000_600,
		MaxDrawTime:      1_000_900,
		TotalPot:         big.NewInt(500),
		ParticipantCount: 2,
	}
}

func TestSyncRoundUpdatesStore(t *testing.T) {
	f := &fakeLedger{}
	f.set(func(f *fakeLedger) {
		f.round = bettingRound(1)
		f.parts = []model.ParticipantAggregate{
			{Address: common.HexToAddress("0xaa"), TotalAmount: big.NewInt(500), BetCount: 1},
		}
	})
	e, store, _ := newTestEngine(f)

	e.syncRound(context.Background())

	require.Equal(t, uint64(1), store.Round().RoundID)
	require.Len(t, store.Participants(), 1)
}

func TestSyncRoundSkipsNoRoundSentinel(t *testing.T) {
	f := &fakeLedger{} // RoundID 0
	e, store, rec := newTestEngine(f)

	e.syncRound(context.Background())

	require.Equal(t, uint64(0), store.Round().RoundID)
	require.Empty(t, rec.stages)
}

func TestSyncRoundAppendsHistoryOnTerminalTransition(t *testing.T) {
	f := &fakeLedger{}
	f.set(func(f *fakeLedger) { f.round = bettingRound(1) })
	e, store, _ := newTestEngine(f)

	e.syncRound(context.Background())
	require.Empty(t, store.History())

	completed := bettingRound(1)
	completed.State = model.StateCompleted
	completed.Winner = common.HexToAddress("0xaa")
	f.set(func(f *fakeLedger) { f.round = completed })

	e.syncRound(context.Background())
	require.Len(t, store.History(), 1)
	require.Equal(t, model.StateCompleted, store.History()[0].Round.State)

	// polls seguintes do mesmo round terminal não duplicam o histórico
	e.syncRound(context.Background())
	e.syncRound(context.Background())
	require.Len(t, store.History(), 1)
}

func TestSyncRoundTransientFailureKeepsLastState(t *testing.T) {
	f := &fakeLedger{}
	f.set(func(f *fakeLedger) { f.round = bettingRound(3) })
	e, store, rec := newTestEngine(f)

	e.syncRound(context.Background())
	require.Equal(t, uint64(3), store.Round().RoundID)

	f.set(func(f *fakeLedger) { f.roundErr = errors.New("rpc: connection refused") })
	e.syncRound(context.Background())

	require.True(t, rec.has("round_fetch"))
	require.Equal(t, uint64(3), store.Round().RoundID, "last known state must persist through outages")
}

func TestSyncRoundRejectsRegressionAsInvariantViolation(t *testing.T) {
	f := &fakeLedger{}
	f.set(func(f *fakeLedger) { f.round = bettingRound(5) })
	e, store, rec := newTestEngine(f)

	e.syncRound(context.Background())

	older := bettingRound(4)
	older.State = model.StateCompleted
	f.set(func(f *fakeLedger) { f.round = older })
	e.syncRound(context.Background())

	require.True(t, rec.has("round_invariant"))
	require.Equal(t, uint64(5), store.Round().RoundID)
	require.Empty(t, store.History(), "regressing terminal round must not enter history")
}

func TestSyncLogsSeedsCursorWithLookback(t *testing.T) {
	f := &fakeLedger{}
	f.set(func(f *fakeLedger) { f.latest = 100 })
	e, _, _ := newTestEngine(f)

	e.syncLogs(context.Background())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.logCalls, 1)
	require.Equal(t, [2]uint64{91, 100}, f.logCalls[0])
}

func TestSyncLogsDeduplicatesReplayedEvents(t *testing.T) {
	f := &fakeLedger{}
	evA := model.RawEvent{BlockNumber: 95, LogIndex: 0, Kind: model.EventBetPlaced, RoundID: 1, Amount: big.NewInt(10)}
	evB := model.RawEvent{BlockNumber: 96, LogIndex: 2, Kind: model.EventBetPlaced, RoundID: 1, Amount: big.NewInt(20)}
	f.set(func(f *fakeLedger) {
		f.latest = 100
		f.logs = []model.RawEvent{evA, evB}
	})
	e, store, _ := newTestEngine(f)

	e.syncLogs(context.Background())
	require.Len(t, store.Activity(), 2)

	// reentrega dos mesmos eventos (range sobreposto / reorg) mais um novo
	evC := model.RawEvent{BlockNumber: 101, LogIndex: 0, Kind: model.EventRoundCreated, RoundID: 2}
	f.set(func(f *fakeLedger) {
		f.latest = 105
		f.logs = []model.RawEvent{evA, evB, evC}
	})
	e.syncLogs(context.Background())

	require.Len(t, store.Activity(), 3, "replayed (block, log_index) pairs must not duplicate activity")
}

func TestSyncLogsCursorOnlyAdvancesAfterSuccess(t *testing.T) {
	f := &fakeLedger{}
	f.set(func(f *fakeLedger) {
		f.latest = 100
		f.logsErr = errors.New("rpc timeout")
	})
	e, store, rec := newTestEngine(f)

	e.syncLogs(context.Background())
	require.True(t, rec.has("logs_fetch"))
	require.Empty(t, store.Activity())

	// erro resolvido: o mesmo range é revarrido e os eventos entram
	f.set(func(f *fakeLedger) {
		f.logsErr = nil
		f.logs = []model.RawEvent{{BlockNumber: 95, LogIndex: 0, Kind: model.EventRoundCreated, RoundID: 1}}
	})
	e.syncLogs(context.Background())

	require.Len(t, store.Activity(), 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, [2]uint64{91, 100}, f.logCalls[0])
	require.Equal(t, [2]uint64{91, 100}, f.logCalls[1], "failed range must be retried from the same cursor")
}

func TestSyncLogsForwardsActivityToSink(t *testing.T) {
	f := &fakeLedger{}
	f.set(func(f *fakeLedger) {
		f.latest = 50
		f.logs = []model.RawEvent{{BlockNumber: 45, LogIndex: 1, Kind: model.EventRoundRefunded, RoundID: 9, TotalPot: big.NewInt(77)}}
	})
	e, _, _ := newTestEngine(f)

	var got []model.ActivityEntry
	e.OnActivity = func(entry model.ActivityEntry) { got = append(got, entry) }

	e.syncLogs(context.Background())

	require.Len(t, got, 1)
	require.Equal(t, model.EventRoundRefunded, got[0].Kind)
	require.Equal(t, uint64(9), got[0].RoundID)
}

func TestSyncConfigUpdatesStore(t *testing.T) {
	f := &fakeLedger{}
	f.set(func(f *fakeLedger) {
		f.cfg = model.ConfigSnapshot{MinParticipants: 2, MinBet: big.NewInt(100), BettingDuration: 300}
	})
	e, store, _ := newTestEngine(f)

	e.syncConfig(context.Background())

	cfg, ok := store.Config()
	require.True(t, ok)
	require.Equal(t, uint64(2), cfg.MinParticipants)
}
