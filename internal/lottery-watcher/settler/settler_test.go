package settler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/lottery-watcher/internal/lottery-watcher/chain"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/model"
	"github.com/radieske/lottery-watcher/internal/lottery-watcher/state"
)

const t0 = int64(1_000_000)

// fakeLedger conta submissões; as leituras não são usadas pelo settler.
type fakeLedger struct {
	draws   atomic.Int64
	refunds atomic.Int64

	submitDelay time.Duration

	errMu     sync.Mutex
	submitErr error
	awaitErr  error
}

func (f *fakeLedger) setSubmitErr(err error) {
	f.errMu.Lock()
	f.submitErr = err
	f.errMu.Unlock()
}

func (f *fakeLedger) setAwaitErr(err error) {
	f.errMu.Lock()
	f.awaitErr = err
	f.errMu.Unlock()
}

func (f *fakeLedger) CurrentRound(context.Context) (model.RoundSnapshot, error) {
	return model.RoundSnapshot{}, errors.New("not used")
}

func (f *fakeLedger) Participants(context.Context) ([]model.ParticipantAggregate, error) {
	return nil, errors.New("not used")
}

func (f *fakeLedger) LotteryConfig(context.Context) (model.ConfigSnapshot, error) {
	return model.ConfigSnapshot{}, errors.New("not used")
}

func (f *fakeLedger) LatestBlock(context.Context) (uint64, error) { return 0, errors.New("not used") }

func (f *fakeLedger) Logs(context.Context, uint64, uint64) ([]model.RawEvent, error) {
	return nil, errors.New("not used")
}

func (f *fakeLedger) SubmitDraw(context.Context, uint64) (common.Hash, error) {
	if f.submitDelay > 0 {
		time.Sleep(f.submitDelay)
	}
	f.draws.Add(1)
	f.errMu.Lock()
	defer f.errMu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return common.HexToHash("0x01"), nil
}

func (f *fakeLedger) SubmitRefund(context.Context, uint64) (common.Hash, error) {
	if f.submitDelay > 0 {
		time.Sleep(f.submitDelay)
	}
	f.refunds.Add(1)
	f.errMu.Lock()
	defer f.errMu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return common.HexToHash("0x02"), nil
}

func (f *fakeLedger) Await(context.Context, common.Hash) error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.awaitErr
}

func round(id uint64, participants uint64, pot int64) model.RoundSnapshot {
	return model.RoundSnapshot{
		RoundID:          id,
		State:            model.StateBetting,
		StartTime:        t0,
		EndTime:          t0 + 300,
		MinDrawTime:      t0 + 600,
		MaxDrawTime:      t0 + 900,
		TotalPot:         big.NewInt(pot),
		ParticipantCount: participants,
	}
}

func newTestSettler(f *fakeLedger, now int64) (*Settler, *state.Store) {
	store := state.New(zap.NewNop(), 10, 50)
	store.SetConfig(model.ConfigSnapshot{MinParticipants: 2, MinBet: big.NewInt(1)})
	s := &Settler{
		Log:           zap.NewNop(),
		Ledger:        f,
		Store:         store,
		SubmitTimeout: time.Second,
		AwaitTimeout:  time.Second,
		Now:           func() time.Time { return time.Unix(now, 0) },
	}
	return s, store
}

func (s *Settler) inFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

func TestDrawFiresInsideWindow(t *testing.T) {
	f := &fakeLedger{}
	s, store := newTestSettler(f, t0+650)
	require.NoError(t, store.SetRound(round(7, 5, 100)))

	s.Evaluate(context.Background())

	require.Eventually(t, func() bool { return f.draws.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, f.draws.Load())
	require.EqualValues(t, 0, f.refunds.Load())

	// gatilhos posteriores não re-submetem: a flag fica armada até o round
	// aparecer terminal
	s.Evaluate(context.Background())
	s.Evaluate(context.Background())
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, f.draws.Load())
}

func TestRefundFiresAfterWindowWithTooFewParticipants(t *testing.T) {
	f := &fakeLedger{}
	s, store := newTestSettler(f, t0+901)
	require.NoError(t, store.SetRound(round(7, 1, 100)))

	s.Evaluate(context.Background())

	require.Eventually(t, func() bool { return f.refunds.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 0, f.draws.Load())
}

func TestNoActionBeforeMinDrawTime(t *testing.T) {
	f := &fakeLedger{}
	s, store := newTestSettler(f, t0+100)
	require.NoError(t, store.SetRound(round(7, 5, 100)))

	s.Evaluate(context.Background())

	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 0, f.draws.Load())
	require.EqualValues(t, 0, f.refunds.Load())
	require.Zero(t, s.inFlightCount())
}

func TestNoActionInsideWindowBelowMinimum(t *testing.T) {
	f := &fakeLedger{}
	s, store := newTestSettler(f, t0+650)
	require.NoError(t, store.SetRound(round(7, 1, 100)))

	s.Evaluate(context.Background())

	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 0, f.draws.Load())
	require.EqualValues(t, 0, f.refunds.Load())
}

func TestNoActionWithEmptyPotInsideWindow(t *testing.T) {
	f := &fakeLedger{}
	s, store := newTestSettler(f, t0+650)
	require.NoError(t, store.SetRound(round(7, 5, 0)))

	s.Evaluate(context.Background())

	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 0, f.draws.Load())
}

func TestNoActionWithoutSyncedConfig(t *testing.T) {
	f := &fakeLedger{}
	store := state.New(zap.NewNop(), 10, 50) // sem SetConfig
	s := &Settler{
		Log:    zap.NewNop(),
		Ledger: f,
		Store:  store,
		Now:    func() time.Time { return time.Unix(t0+650, 0) },
	}
	require.NoError(t, store.SetRound(round(7, 5, 100)))

	s.Evaluate(context.Background())

	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 0, f.draws.Load())
}

func TestAtMostOneInFlightUnderConcurrentTriggers(t *testing.T) {
	f := &fakeLedger{submitDelay: 50 * time.Millisecond}
	s, store := newTestSettler(f, t0+650)
	require.NoError(t, store.SetRound(round(7, 5, 100)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Evaluate(context.Background())
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return f.draws.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 1, f.draws.Load(), "concurrent triggers must collapse into one submission")
	require.EqualValues(t, 0, f.refunds.Load())
}

func TestRetryAfterSubmitFailure(t *testing.T) {
	f := &fakeLedger{}
	f.setSubmitErr(errors.New("rpc: nonce too low"))
	s, store := newTestSettler(f, t0+650)
	require.NoError(t, store.SetRound(round(7, 5, 100)))

	s.Evaluate(context.Background())
	require.Eventually(t, func() bool { return f.draws.Load() == 1 }, time.Second, 5*time.Millisecond)

	// falha limpa a flag; o próximo gatilho tenta de novo
	require.Eventually(t, func() bool { return s.inFlightCount() == 0 }, time.Second, 5*time.Millisecond)

	f.setSubmitErr(nil)
	s.Evaluate(context.Background())
	require.Eventually(t, func() bool { return f.draws.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestRejectedActionClearsFlagWithoutImmediateRetry(t *testing.T) {
	f := &fakeLedger{}
	f.setAwaitErr(chain.ErrTxRejected)
	s, store := newTestSettler(f, t0+650)
	require.NoError(t, store.SetRound(round(7, 5, 100)))

	var outcomes []string
	var mu sync.Mutex
	s.OnResult = func(_, outcome string) {
		mu.Lock()
		outcomes = append(outcomes, outcome)
		mu.Unlock()
	}

	s.Evaluate(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 1 && outcomes[0] == "rejected"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.inFlightCount() == 0 }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, f.draws.Load())
}

func TestTerminalRoundClearsFlagAndStopsActing(t *testing.T) {
	f := &fakeLedger{}
	s, store := newTestSettler(f, t0+650)
	require.NoError(t, store.SetRound(round(7, 5, 100)))

	s.Evaluate(context.Background())
	require.Eventually(t, func() bool { return f.draws.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, s.inFlightCount(), "flag stays armed until the terminal state is observed")

	completed := round(7, 5, 100)
	completed.State = model.StateCompleted
	require.NoError(t, store.SetRound(completed))

	s.Evaluate(context.Background())
	require.Eventually(t, func() bool { return s.inFlightCount() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, f.draws.Load())
}

func TestDecideTable(t *testing.T) {
	cfg := model.ConfigSnapshot{MinParticipants: 2}
	base := round(1, 5, 100)

	cases := []struct {
		name string
		mod  func(*model.RoundSnapshot)
		now  int64
		want Action
	}{
		{"before window", nil, t0 + 599, ActionNone},
		{"window opens", nil, t0 + 600, ActionDraw},
		{"inside window", nil, t0 + 650, ActionDraw},
		{"window closes", nil, t0 + 900, ActionDraw},
		{"expired", nil, t0 + 901, ActionRefund},
		{"expired below minimum", func(r *model.RoundSnapshot) { r.ParticipantCount = 1 }, t0 + 901, ActionRefund},
		{"inside below minimum", func(r *model.RoundSnapshot) { r.ParticipantCount = 1 }, t0 + 650, ActionNone},
		{"inside empty pot", func(r *model.RoundSnapshot) { r.TotalPot = nil }, t0 + 650, ActionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := base
			if tc.mod != nil {
				tc.mod(&r)
			}
			require.Equal(t, tc.want, decide(r, cfg, tc.now))
		})
	}
}
