package biz

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	caseErrors "caseprint-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

var testLogger = log.NewStdLogger(io.Discard)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// ========== 时钟 ==========

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ========== 存储 ==========

type memRepo struct {
	payMu    sync.Mutex
	orderMu  sync.Mutex
	payments map[string]PaymentIntent
	orders   map[string]OrderRecord

	failUpdates      bool
	failPaymentSave  func(p PaymentIntent) bool // 返回 true 时丢弃本次意向写回
	failOrderCreates int
}

func newMemRepo() *memRepo {
	return &memRepo{
		payments: make(map[string]PaymentIntent),
		orders:   make(map[string]OrderRecord),
	}
}

func (r *memRepo) CreatePayment(_ context.Context, p *PaymentIntent) error {
	r.payMu.Lock()
	defer r.payMu.Unlock()
	if _, ok := r.payments[p.CorrelationID]; ok {
		return ErrCorrelationIDTaken
	}
	r.payments[p.CorrelationID] = *p
	return nil
}

func (r *memRepo) GetPayment(_ context.Context, id string) (*PaymentIntent, error) {
	r.payMu.Lock()
	defer r.payMu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memRepo) UpdatePayment(_ context.Context, id string, fn func(p *PaymentIntent) error) (*PaymentIntent, error) {
	r.payMu.Lock()
	defer r.payMu.Unlock()
	if r.failUpdates {
		return nil, errors.New("store unavailable")
	}
	p, ok := r.payments[id]
	if !ok {
		return nil, caseErrors.RecordNotFound(id)
	}
	if err := fn(&p); err != nil {
		if errors.Is(err, ErrSkipSave) {
			return &p, nil
		}
		return nil, err
	}
	if r.failPaymentSave != nil && r.failPaymentSave(p) {
		return nil, errors.New("store unavailable")
	}
	r.payments[id] = p
	return &p, nil
}

func (r *memRepo) ListActivePayments(_ context.Context) ([]*PaymentIntent, error) {
	r.payMu.Lock()
	defer r.payMu.Unlock()
	var out []*PaymentIntent
	for _, p := range r.payments {
		if p.Active() {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (r *memRepo) CreateOrder(_ context.Context, o *OrderRecord) error {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	if r.failOrderCreates > 0 {
		r.failOrderCreates--
		return errors.New("store unavailable")
	}
	if _, ok := r.orders[o.CorrelationID]; ok {
		return ErrCorrelationIDTaken
	}
	r.orders[o.CorrelationID] = *o
	return nil
}

func (r *memRepo) GetOrder(_ context.Context, id string) (*OrderRecord, error) {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *memRepo) UpdateOrder(_ context.Context, id string, fn func(o *OrderRecord) error) (*OrderRecord, error) {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	if r.failUpdates {
		return nil, errors.New("store unavailable")
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, caseErrors.RecordNotFound(id)
	}
	if err := fn(&o); err != nil {
		if errors.Is(err, ErrSkipSave) {
			return &o, nil
		}
		return nil, err
	}
	r.orders[id] = o
	return &o, nil
}

func (r *memRepo) ListActiveOrders(_ context.Context) ([]*OrderRecord, error) {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	var out []*OrderRecord
	for _, o := range r.orders {
		if o.Active() {
			o := o
			out = append(out, &o)
		}
	}
	return out, nil
}

func (r *memRepo) failNextPaymentSaves(n int) {
	r.failPaymentSavesWhen(func(PaymentIntent) bool {
		if n == 0 {
			return false
		}
		n--
		return true
	})
}

// failPaymentSavesWhen fn 在 payMu 内调用
func (r *memRepo) failPaymentSavesWhen(fn func(p PaymentIntent) bool) {
	r.payMu.Lock()
	r.failPaymentSave = fn
	r.payMu.Unlock()
}

func (r *memRepo) failNextOrderCreates(n int) {
	r.orderMu.Lock()
	r.failOrderCreates = n
	r.orderMu.Unlock()
}

// editPayment 绕过业务逻辑直接改写存储中的意向
func (r *memRepo) editPayment(id string, fn func(p *PaymentIntent)) {
	r.payMu.Lock()
	defer r.payMu.Unlock()
	p := r.payments[id]
	fn(&p)
	r.payments[id] = p
}

func (r *memRepo) payment(t *testing.T, id string) PaymentIntent {
	t.Helper()
	r.payMu.Lock()
	defer r.payMu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		t.Fatalf("payment %s not stored", id)
	}
	return p
}

func (r *memRepo) order(t *testing.T, id string) OrderRecord {
	t.Helper()
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		t.Fatalf("order %s not stored", id)
	}
	return o
}

func (r *memRepo) orderCount() int {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()
	return len(r.orders)
}

type memArchive struct {
	mu          sync.Mutex
	payments    map[string]PaymentIntent
	orders      map[string]OrderRecord
	transitions []StatusTransition
}

func newMemArchive() *memArchive {
	return &memArchive{
		payments: make(map[string]PaymentIntent),
		orders:   make(map[string]OrderRecord),
	}
}

func (a *memArchive) ArchivePayment(_ context.Context, p *PaymentIntent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payments[p.CorrelationID] = *p
	return nil
}

func (a *memArchive) ArchiveOrder(_ context.Context, o *OrderRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders[o.CorrelationID] = *o
	return nil
}

func (a *memArchive) RecordTransition(_ context.Context, t *StatusTransition) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transitions = append(a.transitions, *t)
	return nil
}

func (a *memArchive) ListTransitions(_ context.Context, id string) ([]*StatusTransition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*StatusTransition
	for _, t := range a.transitions {
		if t.CorrelationID == id {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (a *memArchive) FindPayment(_ context.Context, id string) (*PaymentIntent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (a *memArchive) FindOrder(_ context.Context, id string) (*OrderRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (a *memArchive) archivedPayment(id string) (PaymentIntent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.payments[id]
	return p, ok
}

func (a *memArchive) archivedOrder(id string) (OrderRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[id]
	return o, ok
}

func (a *memArchive) sources(id string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, t := range a.transitions {
		if t.CorrelationID == id {
			out = append(out, t.Source)
		}
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *fakePublisher) Publish(_ context.Context, ev *StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// ========== 合作方 ==========

type partnerHandler func(req *PartnerRequest) (*PartnerResponse, error)

// fakePartner 按路径分发的合作方替身，默认实现登录、提交与查询
type fakePartner struct {
	mu          sync.Mutex
	handlers    map[string]partnerHandler
	calls       []PartnerRequest
	payStatus   map[string]int
	orderStatus map[string]int
}

func newFakePartner(paths PartnerPaths) *fakePartner {
	f := &fakePartner{
		handlers:    make(map[string]partnerHandler),
		payStatus:   make(map[string]int),
		orderStatus: make(map[string]int),
	}
	f.handlers[paths.Login] = func(*PartnerRequest) (*PartnerResponse, error) {
		return okResp("tok-1"), nil
	}
	f.handlers[paths.SubmitPayment] = func(req *PartnerRequest) (*PartnerResponse, error) {
		id := req.Body["third_id"].(string)
		return okResp(map[string]any{"id": "PAY-" + id, "third_id": id}), nil
	}
	f.handlers[paths.SubmitOrder] = func(req *PartnerRequest) (*PartnerResponse, error) {
		id := req.Body["third_id"].(string)
		return okResp(map[string]any{"id": "ORD-" + id, "third_id": id, "queue_num": 3}), nil
	}
	f.handlers[paths.QueryPayment] = func(req *PartnerRequest) (*PartnerResponse, error) {
		return okResp(f.rows(queryIDs(req), f.payStatus)), nil
	}
	f.handlers[paths.QueryOrder] = func(req *PartnerRequest) (*PartnerResponse, error) {
		return okResp(f.rows(queryIDs(req), f.orderStatus)), nil
	}
	return f
}

func (f *fakePartner) Post(_ context.Context, req *PartnerRequest) (*PartnerResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	h := f.handlers[req.Path]
	f.mu.Unlock()
	if h == nil {
		return &PartnerResponse{Code: 404, Msg: "no route"}, nil
	}
	return h(req)
}

func (f *fakePartner) handle(path string, h partnerHandler) {
	f.mu.Lock()
	f.handlers[path] = h
	f.mu.Unlock()
}

func (f *fakePartner) setPayStatus(id string, status int) {
	f.mu.Lock()
	f.payStatus[id] = status
	f.mu.Unlock()
}

func (f *fakePartner) setOrderStatus(id string, status int) {
	f.mu.Lock()
	f.orderStatus[id] = status
	f.mu.Unlock()
}

func (f *fakePartner) rows(ids []string, statuses map[string]int) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := []map[string]any{}
	for _, id := range ids {
		if s, ok := statuses[id]; ok {
			rows = append(rows, map[string]any{"third_id": id, "status": s})
		}
	}
	return rows
}

func (f *fakePartner) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

func (f *fakePartner) last(path string) PartnerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Path == path {
			return f.calls[i]
		}
	}
	return PartnerRequest{}
}

func queryIDs(req *PartnerRequest) []string {
	ids, _ := req.Body["third_ids"].([]string)
	return ids
}

func okResp(data any) *PartnerResponse {
	b, _ := json.Marshal(data)
	return &PartnerResponse{Code: 200, Msg: "ok", Data: b}
}

// ========== 组装 ==========

var testPaths = PartnerPaths{
	Login:         "/api/login",
	SubmitPayment: "/api/pay/submit",
	QueryPayment:  "/api/pay/query",
	SubmitOrder:   "/api/order/submit",
	QueryOrder:    "/api/order/query",
}

func testPartnerConfig() *PartnerConfig {
	return &PartnerConfig{
		Account:        "caseprint",
		Password:       "secret-pass",
		SystemName:     "caseprint",
		Secret:         "k3y",
		DeviceID:       "DEV01",
		TokenTTL:       time.Hour,
		UserTimeout:    5 * time.Second,
		SubmitLease:    time.Minute,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
		TransientCodes: map[int]bool{503: true},
		Location:       time.UTC,
		Paths:          testPaths,
	}
}

func testReconcilerConfig() *ReconcilerConfig {
	return &ReconcilerConfig{
		Enabled:         true,
		Interval:        time.Second,
		TickTimeout:     time.Minute,
		StalenessWindow: 30 * time.Second,
		BackoffBase:     time.Minute,
		BackoffMax:      10 * time.Minute,
		MaxPollFailures: 3,
		BatchSize:       10,
	}
}

type harness struct {
	partner *fakePartner
	repo    *memRepo
	archive *memArchive
	events  *fakePublisher
	clock   *fakeClock
	conf    *PartnerConfig
	signer  *Signer
	session *SessionManager
	client  *OrderPaymentClient
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:    newMemRepo(),
		archive: newMemArchive(),
		events:  &fakePublisher{},
		clock:   newFakeClock(),
		conf:    testPartnerConfig(),
	}
	h.partner = newFakePartner(h.conf.Paths)
	h.signer = NewSigner(h.conf)
	h.session = NewSessionManager(h.partner, h.signer, h.conf, testLogger)
	h.session.sleep = noSleep
	trail := NewStatusTrail(h.archive, h.events, testLogger)
	ids := NewCorrelationIDGenerator(h.conf)
	h.client = NewOrderPaymentClient(h.partner, h.session, h.signer, ids, h.repo, trail, h.conf, testLogger)
	h.client.now = h.clock.now
	h.client.sleep = noSleep
	return h
}

func (h *harness) reconciler(rc *ReconcilerConfig, locker TickLocker) *StatusReconciler {
	r := NewStatusReconciler(h.client, h.repo, h.client.trail, locker, rc, testLogger)
	r.now = h.clock.now
	return r
}
