// Package domaintest provides in-memory fakes for the domain store and cache
// interfaces. The fakes count calls so tests can pin query-budget contracts
// (e.g. "exactly one positions query per validation").
package domaintest

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// ChallengeStore is an in-memory domain.ChallengeStore.
type ChallengeStore struct {
	mu         sync.Mutex
	Challenges map[string]domain.Challenge

	GetByIDCalls int
	WriteCalls   int

	Err error // when set, every method returns it
}

func NewChallengeStore(challenges ...domain.Challenge) *ChallengeStore {
	s := &ChallengeStore{Challenges: map[string]domain.Challenge{}}
	for _, c := range challenges {
		s.Challenges[c.ID] = c
	}
	return s
}

func (s *ChallengeStore) Create(ctx context.Context, c domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.WriteCalls++
	s.Challenges[c.ID] = c
	return nil
}

func (s *ChallengeStore) GetByID(ctx context.Context, id string) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetByIDCalls++
	if s.Err != nil {
		return domain.Challenge{}, s.Err
	}
	c, ok := s.Challenges[id]
	if !ok {
		return domain.Challenge{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *ChallengeStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.Challenge
	for _, c := range s.Challenges {
		if !c.Status.IsTerminal() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *ChallengeStore) UpdateHighWaterMark(ctx context.Context, id string, hwm float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.WriteCalls++
	c, ok := s.Challenges[id]
	if !ok {
		return domain.ErrNotFound
	}
	if hwm > c.HighWaterMark {
		c.HighWaterMark = hwm
		s.Challenges[id] = c
	}
	return nil
}

func (s *ChallengeStore) SetPendingFailure(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.WriteCalls++
	c, ok := s.Challenges[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.PendingFailureAt = &at
	c.Status = domain.StatusPendingFailure
	s.Challenges[id] = c
	return nil
}

func (s *ChallengeStore) ClearPendingFailure(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.WriteCalls++
	c, ok := s.Challenges[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.PendingFailureAt = nil
	c.Status = domain.StatusActive
	s.Challenges[id] = c
	return nil
}

func (s *ChallengeStore) SetStartOfDay(ctx context.Context, id string, balance float64, resetAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.WriteCalls++
	c, ok := s.Challenges[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.StartOfDayBal = balance
	c.LastDailyResetAt = &resetAt
	s.Challenges[id] = c
	return nil
}

func (s *ChallengeStore) ExtendDeadlines(ctx context.Context, by time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	s.WriteCalls++
	n := 0
	for id, c := range s.Challenges {
		if c.Status.IsTerminal() || c.EndsAt == nil {
			continue
		}
		ends := c.EndsAt.Add(by)
		c.EndsAt = &ends
		s.Challenges[id] = c
		n++
	}
	return n, nil
}

var _ domain.ChallengeStore = (*ChallengeStore)(nil)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu        sync.Mutex
	Positions map[string]domain.Position // by position ID

	ListOpenCalls int
	Err           error
}

func NewPositionStore(positions ...domain.Position) *PositionStore {
	s := &PositionStore{Positions: map[string]domain.Position{}}
	for _, p := range positions {
		s.Positions[p.ID] = p
	}
	return s
}

func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Positions[p.ID] = p
	return nil
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return domain.Position{}, s.Err
	}
	p, ok := s.Positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *PositionStore) ListOpenByChallenge(ctx context.Context, challengeID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListOpenCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.Position
	for _, p := range s.Positions {
		if p.ChallengeID == challengeID && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *PositionStore) CountOpenByChallenge(ctx context.Context, challengeID string) (int, error) {
	open, err := s.ListOpenByChallenge(ctx, challengeID)
	if err != nil {
		return 0, err
	}
	return len(open), nil
}

var _ domain.PositionStore = (*PositionStore)(nil)

// MarketStore is an in-memory domain.MarketStore.
type MarketStore struct {
	mu      sync.Mutex
	Markets map[string]domain.Market

	LookupCalls int
	Err         error
}

func NewMarketStore(markets ...domain.Market) *MarketStore {
	s := &MarketStore{Markets: map[string]domain.Market{}}
	for _, m := range markets {
		s.Markets[m.ID] = m
	}
	return s
}

func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Markets[m.ID] = m
	return nil
}

func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LookupCalls++
	if s.Err != nil {
		return domain.Market{}, s.Err
	}
	m, ok := s.Markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *MarketStore) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LookupCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]domain.Market, len(ids))
	for _, id := range ids {
		if m, ok := s.Markets[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.Market
	for _, m := range s.Markets {
		if m.Status == domain.MarketStatusActive {
			out = append(out, m)
		}
	}
	return out, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)

// TradeStore is an in-memory domain.TradeStore.
type TradeStore struct {
	mu     sync.Mutex
	Trades []domain.Trade
	Err    error
}

func NewTradeStore(trades ...domain.Trade) *TradeStore {
	return &TradeStore{Trades: trades}
}

func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Trades = append(s.Trades, t)
	return nil
}

func (s *TradeStore) ListByChallenge(ctx context.Context, challengeID string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.Trade
	for _, t := range s.Trades {
		if t.ChallengeID == challengeID {
			out = append(out, t)
		}
	}
	return out, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)

// OutageStore is an in-memory domain.OutageStore.
type OutageStore struct {
	mu     sync.Mutex
	Events []domain.OutageEvent
	Err    error
}

func NewOutageStore(events ...domain.OutageEvent) *OutageStore {
	return &OutageStore{Events: events}
}

func (s *OutageStore) Open(ctx context.Context, e domain.OutageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Events = append(s.Events, e)
	return nil
}

func (s *OutageStore) CloseOpen(ctx context.Context, endedAt, graceEndsAt time.Time, extended int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].EndedAt == nil {
			s.Events[i].EndedAt = &endedAt
			s.Events[i].GraceWindowEndsAt = &graceEndsAt
			s.Events[i].ChallengesExtended = extended
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *OutageStore) Latest(ctx context.Context) (domain.OutageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return domain.OutageEvent{}, s.Err
	}
	if len(s.Events) == 0 {
		return domain.OutageEvent{}, domain.ErrNotFound
	}
	return s.Events[len(s.Events)-1], nil
}

func (s *OutageStore) ListRecent(ctx context.Context, limit int) ([]domain.OutageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := append([]domain.OutageEvent(nil), s.Events...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

var _ domain.OutageStore = (*OutageStore)(nil)

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	Entries []domain.AuditEntry
	Err     error
}

func NewAuditStore() *AuditStore { return &AuditStore{} }

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Entries = append(s.Entries, domain.AuditEntry{
		ID:        int64(len(s.Entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]domain.AuditEntry(nil), s.Entries...), nil
}

var _ domain.AuditStore = (*AuditStore)(nil)

// PriceSource is an in-memory domain.PriceSource.
type PriceSource struct {
	mu     sync.Mutex
	Prices map[string]float64
	Now    time.Time

	BatchCalls  int
	SingleCalls int
	Err         error
}

func NewPriceSource(prices map[string]float64) *PriceSource {
	if prices == nil {
		prices = map[string]float64{}
	}
	return &PriceSource{Prices: prices, Now: time.Now()}
}

func (s *PriceSource) LatestPrice(ctx context.Context, marketID string) (domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SingleCalls++
	if s.Err != nil {
		return domain.PricePoint{}, s.Err
	}
	p, ok := s.Prices[marketID]
	if !ok {
		return domain.PricePoint{}, domain.ErrNoPrice
	}
	return domain.PricePoint{MarketID: marketID, Price: p, Time: s.Now}, nil
}

func (s *PriceSource) BatchPrices(ctx context.Context, marketIDs []string) (map[string]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BatchCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]domain.PricePoint, len(marketIDs))
	for _, id := range marketIDs {
		if p, ok := s.Prices[id]; ok {
			out[id] = domain.PricePoint{MarketID: id, Price: p, Time: s.Now}
		}
	}
	return out, nil
}

var _ domain.PriceSource = (*PriceSource)(nil)

// TxRunner is an in-memory domain.TxRunner that applies recorded writes to
// the backing fakes only when fn succeeds, mirroring transactional rollback.
type TxRunner struct {
	Challenges *ChallengeStore
	Positions  *PositionStore
	Trades     *TradeStore

	TxCalls    int
	FailCommit error // when set, WithinTx returns it and discards all writes
}

func NewTxRunner(c *ChallengeStore, p *PositionStore, t *TradeStore) *TxRunner {
	return &TxRunner{Challenges: c, Positions: p, Trades: t}
}

type txOp func() error

// recordingTx queues writes until commit.
type recordingTx struct {
	runner *TxRunner
	ops    []txOp
}

func (tx *recordingTx) UpdateChallengeState(ctx context.Context, id string, phase domain.ChallengePhase, status domain.ChallengeStatus, pendingFailureAt *time.Time) error {
	runner := tx.runner
	tx.ops = append(tx.ops, func() error {
		runner.Challenges.mu.Lock()
		defer runner.Challenges.mu.Unlock()
		c, ok := runner.Challenges.Challenges[id]
		if !ok {
			return domain.ErrNotFound
		}
		c.Phase = phase
		c.Status = status
		c.PendingFailureAt = pendingFailureAt
		runner.Challenges.Challenges[id] = c
		runner.Challenges.WriteCalls++
		return nil
	})
	return nil
}

func (tx *recordingTx) ClosePosition(ctx context.Context, positionID string, exitPrice float64, closedAt time.Time) error {
	runner := tx.runner
	tx.ops = append(tx.ops, func() error {
		runner.Positions.mu.Lock()
		defer runner.Positions.mu.Unlock()
		p, ok := runner.Positions.Positions[positionID]
		if !ok {
			return domain.ErrNotFound
		}
		p.Status = domain.PositionStatusClosed
		p.ExitPrice = &exitPrice
		p.ClosedAt = &closedAt
		runner.Positions.Positions[positionID] = p
		return nil
	})
	return nil
}

func (tx *recordingTx) InsertPosition(ctx context.Context, p domain.Position) error {
	runner := tx.runner
	tx.ops = append(tx.ops, func() error {
		runner.Positions.mu.Lock()
		defer runner.Positions.mu.Unlock()
		runner.Positions.Positions[p.ID] = p
		return nil
	})
	return nil
}

func (tx *recordingTx) AdjustBalance(ctx context.Context, challengeID string, delta float64) error {
	runner := tx.runner
	tx.ops = append(tx.ops, func() error {
		runner.Challenges.mu.Lock()
		defer runner.Challenges.mu.Unlock()
		c, ok := runner.Challenges.Challenges[challengeID]
		if !ok {
			return domain.ErrNotFound
		}
		c.CurrentBalance += delta
		runner.Challenges.Challenges[challengeID] = c
		runner.Challenges.WriteCalls++
		return nil
	})
	return nil
}

func (tx *recordingTx) InsertTrade(ctx context.Context, t domain.Trade) error {
	runner := tx.runner
	tx.ops = append(tx.ops, func() error {
		runner.Trades.mu.Lock()
		defer runner.Trades.mu.Unlock()
		runner.Trades.Trades = append(runner.Trades.Trades, t)
		return nil
	})
	return nil
}

func (r *TxRunner) WithinTx(ctx context.Context, fn func(tx domain.EvalTx) error) error {
	r.TxCalls++
	tx := &recordingTx{runner: r}
	if err := fn(tx); err != nil {
		return err
	}
	if r.FailCommit != nil {
		return r.FailCommit
	}
	for _, op := range tx.ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ domain.TxRunner = (*TxRunner)(nil)
	_ domain.EvalTx   = (*recordingTx)(nil)
)
