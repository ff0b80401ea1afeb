package bot

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/park285/limbot/internal/chess"
	"github.com/park285/limbot/internal/gamelog"
	"github.com/park285/limbot/internal/metrics"
	"github.com/park285/limbot/internal/msgcat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeEngine) Send(command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, command)
	return nil
}

func (f *fakeEngine) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeTransport struct {
	mu    sync.Mutex
	alive bool
	err   error
	sent  []string
}

func (f *fakeTransport) Send(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, string(b))
	return nil
}

func (f *fakeTransport) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTransport) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type scheduled struct {
	delay time.Duration
	f     func()
}

type manualScheduler struct {
	mu    sync.Mutex
	queue []scheduled
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scheduled{delay: d, f: f})
}

func (m *manualScheduler) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// fire runs the oldest scheduled callback.
func (m *manualScheduler) fire(t *testing.T) time.Duration {
	t.Helper()
	m.mu.Lock()
	require.NotEmpty(t, m.queue, "nothing scheduled")
	next := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()
	next.f()
	return next.delay
}

type harness struct {
	i         *Interceptor
	engine    *fakeEngine
	transport *fakeTransport
	scheduler *manualScheduler
	store     *gamelog.MemoryStore
}

func newHarness(t *testing.T, mode chess.PositionMode) *harness {
	t.Helper()
	catalog, err := msgcat.New("")
	require.NoError(t, err)
	h := &harness{
		engine:    &fakeEngine{},
		transport: &fakeTransport{alive: true},
		scheduler: &manualScheduler{},
		store:     gamelog.NewMemoryStore(),
	}
	h.i, err = New(Config{GameID: "abcdefgh", Mode: mode, Policy: chess.DefaultPolicy()}, Deps{
		Engine:    h.engine,
		Transport: h.transport,
		Scheduler: h.scheduler,
		Store:     h.store,
		Catalog:   catalog,
		Metrics:   metrics.New(),
		Rand:      rand.New(rand.NewSource(7)),
		Now:       func() time.Time { return time.Date(2024, 9, 3, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return h
}

// drain runs queued loop work on the test goroutine.
func (h *harness) drain() {
	for {
		select {
		case f := <-h.i.events:
			f()
		default:
			return
		}
	}
}

func (h *harness) fireRelease(t *testing.T) time.Duration {
	t.Helper()
	d := h.scheduler.fire(t)
	h.drain()
	return d
}

func moveFrame(ply int, uci string) []byte {
	return []byte(`{"t":"move","v":` + itoa(ply) + `,"d":{"uci":"` + uci + `","ply":` + itoa(ply) + `}}`)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Policy: chess.DefaultPolicy()}, Deps{Transport: &fakeTransport{}})
	assert.Error(t, err)
	_, err = New(Config{Policy: chess.DefaultPolicy()}, Deps{Engine: &fakeEngine{}})
	assert.Error(t, err)

	bad := chess.DefaultPolicy()
	bad.Depth.Early = 0
	_, err = New(Config{Policy: bad}, Deps{Engine: &fakeEngine{}, Transport: &fakeTransport{}})
	assert.Error(t, err)
}

func TestEngineUntouchedUntilColorIsSet(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	assert.Empty(t, h.engine.commands())
	assert.Equal(t, Idle, h.i.State())

	require.NoError(t, h.i.onBegin(chess.Black))
	assert.Equal(t, []string{"setoption name MultiPV value 8"}, h.engine.commands())
}

func TestBlackRepliesToFirstMove(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- h.i.Run(ctx) }()

	require.NoError(t, h.i.Begin(ctx, chess.Black))
	h.i.HandleMessage(moveFrame(1, "e2e4"))
	require.Eventually(t, func() bool { return h.i.State() == Searching }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"setoption name MultiPV value 8",
		"position startpos moves e2e4",
		"go depth 10",
	}, h.engine.commands())

	// Black to move: the engine's +20 for e7e5 is -0.20 for White.
	h.i.HandleEngineLine("info depth 9 multipv 1 score cp 90 pv d7d5")
	h.i.HandleEngineLine("info depth 10 seldepth 14 multipv 1 score cp 20 nodes 9000 pv e7e5 g1f3")
	h.i.HandleEngineLine("info depth 10 seldepth 14 multipv 2 score cp -15 nodes 9000 pv c7c5 g1f3")
	h.i.HandleEngineLine("bestmove e7e5 ponder g1f3")
	require.Eventually(t, func() bool { return h.scheduler.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Releasing, h.i.State())

	delay := h.scheduler.fire(t)
	assert.Zero(t, delay, "two candidates is a trivial position")
	require.Eventually(t, func() bool { return len(h.transport.frames()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"t":"move","d":{"u":"e7e5","b":1,"l":100,"a":1,"s":0}}`, h.transport.frames()[0])

	h.i.HandleMessage([]byte(`{"t":"endData","d":{"winner":"black","status":{"id":31,"name":"resign"},"clock":{"wc":1000,"bc":2000}}}`))
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the game ended")
	}
	<-h.i.Done()

	out, ok := h.i.Outcome()
	require.True(t, ok)
	assert.Equal(t, "abcdefgh", out.GameID)
	assert.Equal(t, "black", out.BotColor)
	assert.Equal(t, "resign", out.Result.EndBy)
	assert.Equal(t, gamelog.Clock{White: 1000, Black: 2000}, out.ClockOnEnd)

	logged, err := h.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "1/1", gamelog.Score(logged).String())
}

func TestStatusLine(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	h.i.color = chess.Black
	line := h.i.statusLine(&release{move: "e7e5", evalCP: -20, target: -50.0075, moveNumber: 1})
	assert.Equal(t, "1... e7e5: 0.20 (target 0.50) (0 ms)", line)

	h.i.color = chess.White
	line = h.i.statusLine(&release{move: "e2e4", evalCP: 35, target: 50, delay: 342 * time.Millisecond, moveNumber: 12})
	assert.Equal(t, "12. e2e4: 0.35 (target 0.50) (342 ms)", line)

	h.i.deps.Catalog = nil
	assert.Equal(t, "12. e2e4: 0.35 (target 0.50) (342 ms)", h.i.statusLine(&release{move: "e2e4", evalCP: 35, target: 50, delay: 342 * time.Millisecond, moveNumber: 12}))
}

func TestWrongTurnIsIgnored(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))

	// after ply 2 White is to move
	h.i.onTransport(moveFrame(2, "e7e5"))
	assert.Equal(t, Idle, h.i.State())
	assert.Equal(t, 0, h.i.tracker.Ply())
	assert.Len(t, h.engine.commands(), 1)
}

func TestEventsBeforeColorAreDropped(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	h.i.onTransport(moveFrame(1, "e2e4"))
	assert.Equal(t, Idle, h.i.State())
	assert.Equal(t, 0, h.i.tracker.Ply())
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))

	for _, raw := range []string{"{oops", `{"t":"move","d":{"ply":1}}`, `{"t":"move","d":[]}`, ""} {
		h.i.onTransport([]byte(raw))
	}
	h.i.onTransport([]byte("0"))
	assert.Equal(t, Idle, h.i.State())
	assert.Equal(t, 0, h.i.tracker.Ply())

	h.i.onTransport(moveFrame(1, "e2e4"))
	assert.Equal(t, Searching, h.i.State())
}

func TestBusyEventsAreDropped(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))
	h.i.onTransport(moveFrame(1, "e2e4"))
	require.Equal(t, Searching, h.i.State())
	before := h.engine.commands()

	h.i.onTransport(moveFrame(3, "d2d4"))
	assert.Equal(t, before, h.engine.commands())
	assert.Equal(t, 1, h.i.tracker.Ply())
}

func TestStalePlyIsRejected(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))
	h.i.onTransport(moveFrame(1, "e2e4"))
	h.i.onEngineLine("info depth 10 multipv 1 score cp 20 pv e7e5")
	h.i.onEngineLine("bestmove e7e5")
	h.fireRelease(t)
	require.Equal(t, 2, h.i.tracker.Ply())

	// a replayed frame from before our reply
	h.i.onTransport(moveFrame(1, "e2e4"))
	assert.Equal(t, Idle, h.i.State())
	assert.Equal(t, []string{"e2e4", "e7e5"}, h.i.tracker.Moves())
}

func TestWhiteStartsWithoutInboundMove(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.White))
	assert.Equal(t, Searching, h.i.State())
	assert.Equal(t, []string{
		"setoption name MultiPV value 8",
		"position startpos",
		"go depth 10",
	}, h.engine.commands())

	h.i.onEngineLine("info depth 10 multipv 1 score cp 35 pv e2e4")
	h.i.onEngineLine("info depth 10 multipv 2 score cp 30 pv d2d4")
	h.i.onEngineLine("info depth 10 multipv 3 score cp 20 pv g1f3")
	h.i.onEngineLine("info depth 10 multipv 4 score cp 10 pv b1c3")
	h.i.onEngineLine("bestmove e2e4")
	require.Equal(t, Releasing, h.i.State())

	delay := h.fireRelease(t)
	assert.GreaterOrEqual(t, delay, 200*time.Millisecond, "opening moves are delayed")
	require.Len(t, h.transport.frames(), 1)
	assert.Contains(t, h.transport.frames()[0], `"u":"e2e4"`)
	assert.Equal(t, Idle, h.i.State())
	assert.Equal(t, 1, h.i.tracker.Ply())

	// our echoed move leaves Black to move and is not acted on
	h.i.onTransport(moveFrame(1, "e2e4"))
	assert.Equal(t, Idle, h.i.State())

	h.i.onTransport(moveFrame(2, "e7e5"))
	assert.Equal(t, Searching, h.i.State())
	cmds := h.engine.commands()
	assert.Equal(t, "position startpos moves e2e4 e7e5", cmds[len(cmds)-2])
}

func TestColorIsSetOnce(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	assert.Error(t, h.i.onBegin(chess.NoColor))
	require.NoError(t, h.i.onBegin(chess.Black))
	assert.True(t, errors.Is(h.i.onBegin(chess.White), ErrColorAlreadySet))
	assert.Equal(t, Idle, h.i.State())
}

func TestEmptyBatchReturnsToIdle(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))
	h.i.onTransport(moveFrame(1, "e2e4"))
	h.i.onEngineLine("info depth 10 currmove e7e5 currmovenumber 1")
	h.i.onEngineLine("bestmove (none)")

	assert.Equal(t, Idle, h.i.State())
	assert.Zero(t, h.scheduler.len())
	assert.Empty(t, h.transport.frames())
	assert.Equal(t, 1, h.i.tracker.Ply())
}

func TestOfflineTransportSkipsSend(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))
	h.i.onTransport(moveFrame(1, "e2e4"))
	h.i.onEngineLine("info depth 10 multipv 1 score cp 20 pv e7e5")
	h.i.onEngineLine("bestmove e7e5")

	h.transport.mu.Lock()
	h.transport.alive = false
	h.transport.mu.Unlock()
	h.fireRelease(t)

	assert.Empty(t, h.transport.frames())
	assert.Equal(t, Idle, h.i.State())
	assert.Equal(t, 1, h.i.tracker.Ply())
}

func TestSendFailureKeepsTracker(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	h.transport.err = errors.New("write: broken pipe")
	require.NoError(t, h.i.onBegin(chess.Black))
	h.i.onTransport(moveFrame(1, "e2e4"))
	h.i.onEngineLine("info depth 10 multipv 1 score cp 20 pv e7e5")
	h.i.onEngineLine("bestmove e7e5")
	h.fireRelease(t)

	assert.Equal(t, Idle, h.i.State())
	assert.Equal(t, []string{"e2e4"}, h.i.tracker.Moves())
}

func TestGameEndLetsPendingReleaseFire(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))
	h.i.onTransport(moveFrame(1, "e2e4"))
	h.i.onEngineLine("info depth 10 multipv 1 score cp 20 pv e7e5")
	h.i.onEngineLine("bestmove e7e5")
	require.Equal(t, Releasing, h.i.State())

	h.i.onTransport([]byte(`{"t":"endData","d":{"winner":null,"status":{"id":34,"name":"draw"}}}`))
	assert.False(t, h.i.finished())
	out, ok := h.i.Outcome()
	require.True(t, ok)
	assert.Nil(t, out.Result.Winner)

	h.fireRelease(t)
	assert.Len(t, h.transport.frames(), 1)
	assert.True(t, h.i.finished())

	// no further searches once the game is over
	before := h.engine.commands()
	h.i.onTransport(moveFrame(3, "d2d4"))
	assert.Equal(t, before, h.engine.commands())
	assert.Equal(t, Idle, h.i.State())

	// a repeated end frame is not recorded twice
	h.i.onTransport([]byte(`{"t":"endData","d":{"winner":null,"status":{"id":34,"name":"draw"}}}`))
	logged, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestGameEndDuringSearchDiscardsResult(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))
	h.i.onTransport(moveFrame(1, "e2e4"))
	h.i.onEngineLine("info depth 10 multipv 1 score cp 20 pv e7e5")

	h.i.onTransport([]byte(`{"t":"endData","d":{"winner":"white","status":{"id":35,"name":"outoftime"}}}`))
	cmds := h.engine.commands()
	assert.Equal(t, "stop", cmds[len(cmds)-1])
	assert.Equal(t, Searching, h.i.State())

	h.i.onEngineLine("bestmove e7e5")
	assert.Equal(t, Idle, h.i.State())
	assert.Zero(t, h.scheduler.len())
	assert.True(t, h.i.finished())
}

func TestBoardModeSearchesFromBoardString(t *testing.T) {
	h := newHarness(t, chess.BoardMode)
	require.NoError(t, h.i.onBegin(chess.Black))
	h.i.onTransport([]byte(`{"t":"move","d":{"uci":"e2e4","fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR","ply":1}}`))
	cmds := h.engine.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "position fen rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1", cmds[1])
}

func TestLateGameUsesShallowDepth(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	require.NoError(t, h.i.onBegin(chess.Black))
	// ply 61 makes it Black's 31st move
	h.i.onTransport(moveFrame(61, "a2a3"))
	cmds := h.engine.commands()
	assert.Equal(t, "go depth 8", cmds[len(cmds)-1])
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, chess.MoveListMode)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.i.Run(ctx), context.Canceled)
	<-h.i.Done()

	// work posted after the loop has stopped is discarded
	h.i.HandleMessage(moveFrame(1, "e2e4"))
	assert.Error(t, h.i.Begin(context.Background(), chess.White))
}
