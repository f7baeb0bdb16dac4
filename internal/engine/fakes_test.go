package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"settlex/internal/model"
)

// In-memory fakes for the store contracts. They keep the same conditional
// semantics as the Postgres/Redis implementations (ErrConflict on lost
// preconditions, idempotent freeze per deal) so the engines can be exercised
// without infrastructure.

type fakeDeals struct {
	mu       sync.Mutex
	deals    map[string]*model.Deal
	deviceOf map[string]string // requisite id -> device id
	linked   map[string]string // deal id -> notification id
}

func newFakeDeals() *fakeDeals {
	return &fakeDeals{
		deals:    map[string]*model.Deal{},
		deviceOf: map[string]string{},
		linked:   map[string]string{},
	}
}

// Create stores a copy: like a database row, the stored state changes only
// through explicit writes, never through the caller mutating its pointer.
func (f *fakeDeals) Create(ctx context.Context, deal *model.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *deal
	f.deals[deal.ID] = &cp
	return nil
}

func (f *fakeDeals) Get(ctx context.Context, id string) (*model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (f *fakeDeals) MarkAllocated(ctx context.Context, deal *model.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.deals[deal.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != model.DealCreated {
		return ErrConflict
	}
	cp := *deal
	f.deals[deal.ID] = &cp
	return nil
}

func (f *fakeDeals) Transition(ctx context.Context, id string, from []model.DealStatus, to model.DealStatus, at time.Time) (*model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitionLocked(id, from, to, at)
}

func (f *fakeDeals) transitionLocked(id string, from []model.DealStatus, to model.DealStatus, at time.Time) (*model.Deal, error) {
	d, ok := f.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, s := range from {
		if d.Status == s {
			d.Status = to
			if to == model.DealReady {
				d.AcceptedAt = &at
			}
			return d, nil
		}
	}
	return nil, ErrConflict
}

func (f *fakeDeals) CompleteWithNotification(ctx context.Context, dealID, notificationID string, at time.Time) (*model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.transitionLocked(dealID,
		[]model.DealStatus{model.DealInProgress}, model.DealReady, at)
	if err != nil {
		return nil, err
	}
	f.linked[dealID] = notificationID
	return d, nil
}

func (f *fakeDeals) FindOpenByDeviceAmount(ctx context.Context, deviceID string, amount decimal.Decimal, now time.Time) ([]*model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Deal
	for _, d := range f.deals {
		if !d.Status.Open() || d.RequisiteID == nil || d.Expired(now) {
			continue
		}
		if f.deviceOf[*d.RequisiteID] != deviceID {
			continue
		}
		if !d.AmountFiat.Equal(amount) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDeals) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Deal
	for _, d := range f.deals {
		if d.Status.Open() && d.Expired(now) && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeals) FindUnsettled(ctx context.Context, since time.Time, limit int) ([]*model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Deal
	for _, d := range f.deals {
		if d.Status != model.DealReady || d.AcceptedAt == nil {
			continue
		}
		if d.AcceptedAt.Before(since) || len(out) >= limit {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

type fakeRequisites struct {
	mu         sync.Mutex
	candidates []*Candidate
	claimed    map[string]int
	released   map[string]int
	openFreed  map[string]int
	usageFreed map[string]decimal.Decimal
}

func newFakeRequisites(candidates ...*Candidate) *fakeRequisites {
	return &fakeRequisites{
		candidates: candidates,
		claimed:    map[string]int{},
		released:   map[string]int{},
		openFreed:  map[string]int{},
		usageFreed: map[string]decimal.Decimal{},
	}
}

func (f *fakeRequisites) FindCandidates(ctx context.Context, q CandidateQuery) ([]*Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Candidate
	for _, c := range f.candidates {
		if c.Requisite.MethodType == q.MethodType {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRequisites) Claim(ctx context.Context, requisiteID string, amount decimal.Decimal, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.candidates {
		if c.Requisite.ID != requisiteID {
			continue
		}
		if !c.Requisite.FitsAmount(amount) {
			return ErrConflict
		}
		c.Requisite.DayUsed = c.Requisite.DayUsed.Add(amount)
		c.Requisite.MonthUsed = c.Requisite.MonthUsed.Add(amount)
		c.Requisite.OpenDeals++
		c.Requisite.LastUsedAt = at
		f.claimed[requisiteID]++
		return nil
	}
	return ErrNotFound
}

func (f *fakeRequisites) ReleaseClaim(ctx context.Context, requisiteID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.candidates {
		if c.Requisite.ID != requisiteID {
			continue
		}
		c.Requisite.DayUsed = c.Requisite.DayUsed.Sub(amount)
		c.Requisite.MonthUsed = c.Requisite.MonthUsed.Sub(amount)
		c.Requisite.OpenDeals--
		f.released[requisiteID]++
		return nil
	}
	return ErrNotFound
}

func (f *fakeRequisites) ReleaseOpen(ctx context.Context, requisiteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openFreed[requisiteID]++
	return nil
}

func (f *fakeRequisites) ReleaseUsage(ctx context.Context, requisiteID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageFreed[requisiteID] = f.usageFreed[requisiteID].Add(amount)
	return nil
}

type fakeBalances struct {
	mu        sync.Mutex
	byID      map[string]*model.Balance
	frozen    map[string]decimal.Decimal // deal id -> frozen total
	settled   map[string]decimal.Decimal // deal id -> credited profit
	settleErr error // consumed by the next Settle call
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{
		byID:    map[string]*model.Balance{},
		frozen:  map[string]decimal.Decimal{},
		settled: map[string]decimal.Decimal{},
	}
}

func (f *fakeBalances) set(traderID string, available decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[traderID] = &model.Balance{TraderID: traderID, Available: available}
}

func (f *fakeBalances) Freeze(ctx context.Context, traderID, dealID string, total decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.frozen[dealID]; done {
		return nil
	}
	b, ok := f.byID[traderID]
	if !ok || b.Spendable().LessThan(total) {
		return ErrInsufficient
	}
	b.Available = b.Available.Sub(total)
	b.Frozen = b.Frozen.Add(total)
	f.frozen[dealID] = total
	return nil
}

func (f *fakeBalances) Unfreeze(ctx context.Context, traderID, dealID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	total, ok := f.frozen[dealID]
	if !ok {
		return nil
	}
	b := f.byID[traderID]
	b.Available = b.Available.Add(total)
	b.Frozen = b.Frozen.Sub(total)
	delete(f.frozen, dealID)
	return nil
}

func (f *fakeBalances) Settle(ctx context.Context, traderID, dealID string, profit decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleErr != nil {
		err := f.settleErr
		f.settleErr = nil
		return err
	}
	if _, done := f.settled[dealID]; done {
		return nil
	}
	total, ok := f.frozen[dealID]
	if ok {
		b := f.byID[traderID]
		b.Frozen = b.Frozen.Sub(total)
		b.Available = b.Available.Add(profit)
		delete(f.frozen, dealID)
	}
	f.settled[dealID] = profit
	return nil
}

func (f *fakeBalances) Get(ctx context.Context, traderID string) (*model.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byID[traderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBalances) GetBatch(ctx context.Context, traderIDs []string) (map[string]model.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]model.Balance{}
	for _, id := range traderIDs {
		if b, ok := f.byID[id]; ok {
			out[id] = *b
		}
	}
	return out, nil
}

type fakeNotifications struct {
	mu   sync.Mutex
	byID map[string]*model.Notification
}

func newFakeNotifications() *fakeNotifications {
	return &fakeNotifications{byID: map[string]*model.Notification{}}
}

func (f *fakeNotifications) Create(ctx context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[n.ID] = n
	return nil
}

func (f *fakeNotifications) Get(ctx context.Context, id string) (*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

type fakeDevices struct {
	mu         sync.Mutex
	heartbeats map[string]time.Time
	err        error
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{heartbeats: map[string]time.Time{}}
}

func (f *fakeDevices) Heartbeat(ctx context.Context, deviceID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.heartbeats[deviceID] = at
	return nil
}

type fakeDisputes struct {
	mu   sync.Mutex
	byID map[string]*model.Dispute
}

func newFakeDisputes() *fakeDisputes {
	return &fakeDisputes{byID: map[string]*model.Dispute{}}
}

func (f *fakeDisputes) Create(ctx context.Context, d *model.Dispute) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.SubjectType == d.SubjectType && existing.SubjectID == d.SubjectID && !existing.Closed() {
			return ErrDisputeOpen
		}
	}
	f.byID[d.ID] = d
	return nil
}

func (f *fakeDisputes) Get(ctx context.Context, id string) (*model.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (f *fakeDisputes) FindExpired(ctx context.Context, now time.Time) ([]*model.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Dispute
	for _, d := range f.byID {
		if !d.Closed() && !d.DeadlineAt.After(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDisputes) Resolve(ctx context.Context, id string, outcome model.DisputeOutcome, by string, at time.Time) (*model.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Closed() {
		return nil, ErrConflict
	}
	d.Status = model.DisputeResolved
	d.Outcome = outcome
	d.ResolvedBy = by
	d.ResolvedAt = &at
	return d, nil
}

type fakeSettlements struct {
	mu     sync.Mutex
	totals map[string]*MerchantTotals
	byID   map[string]*model.SettlementRequest
}

func newFakeSettlements() *fakeSettlements {
	return &fakeSettlements{
		totals: map[string]*MerchantTotals{},
		byID:   map[string]*model.SettlementRequest{},
	}
}

func (f *fakeSettlements) MerchantTotals(ctx context.Context, merchantID string) (*MerchantTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.totals[merchantID]; ok {
		return t, nil
	}
	return &MerchantTotals{}, nil
}

func (f *fakeSettlements) Create(ctx context.Context, req *model.SettlementRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[req.ID] = req
	return nil
}

func (f *fakeSettlements) Get(ctx context.Context, id string) (*model.SettlementRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (f *fakeSettlements) Finalize(ctx context.Context, id string, status model.SettlementStatus, by, reason string, at time.Time) (*model.SettlementRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != model.SettlementPending {
		return nil, ErrConflict
	}
	r.Status = status
	r.ProcessedBy = by
	r.CancelReason = reason
	r.ProcessedAt = &at
	return r, nil
}

type fakeMethods struct {
	byCode map[string]*model.PaymentMethod
}

func (f *fakeMethods) Get(ctx context.Context, code string) (*model.PaymentMethod, error) {
	m, ok := f.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

type fakeMerchants struct {
	byID map[string]*model.Merchant
}

func (f *fakeMerchants) Get(ctx context.Context, id string) (*model.Merchant, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

type fakeOracle struct {
	rate decimal.Decimal
}

func (f *fakeOracle) RateWithCorrection(ctx context.Context, pct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(pct.Div(decimal.NewFromInt(100)))
	return f.rate.Mul(factor).Round(2)
}

type fakeBus struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeBus) Publish(topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

type fakeCallbackLog struct {
	mu      sync.Mutex
	records []CallbackRecord
}

func (f *fakeCallbackLog) Record(ctx context.Context, dealID string, rec CallbackRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}
