package server

import (
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/conf"
	"caseprint-service/internal/data"
	"caseprint-service/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testLogger = log.NewStdLogger(io.Discard)

// fakePartnerAPI 合作方 HTTP 替身：登录、提交、查询
type fakePartnerAPI struct {
	mu        sync.Mutex
	payStatus map[string]int
	calls     map[string]int
}

func (p *fakePartnerAPI) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	p.mu.Lock()
	p.calls[r.URL.Path]++
	p.mu.Unlock()

	if r.URL.Path != "/api/login" && r.Header.Get("Authorization") != "tok-1" {
		w.WriteHeader(stdhttp.StatusUnauthorized)
		return
	}

	var data any
	switch r.URL.Path {
	case "/api/login":
		data = "tok-1"
	case "/api/pay/submit", "/api/order/submit":
		id, _ := body["third_id"].(string)
		data = map[string]any{"id": "P-" + id, "third_id": id}
	case "/api/pay/query":
		rows := []map[string]any{}
		ids, _ := body["third_ids"].([]any)
		p.mu.Lock()
		for _, v := range ids {
			id, _ := v.(string)
			if s, ok := p.payStatus[id]; ok {
				rows = append(rows, map[string]any{"third_id": id, "status": s})
			}
		}
		p.mu.Unlock()
		data = rows
	default:
		data = []any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 200, "msg": "ok", "data": data})
}

func (p *fakePartnerAPI) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

type stack struct {
	partner    *fakePartnerAPI
	reconciler *biz.StatusReconciler
	rc         *biz.ReconcilerConfig
	http       *http.Server
}

// newStack 按 wire 的装配顺序组装服务，Redis 与 MySQL 分别替换为 miniredis 与 SQLite
func newStack(t *testing.T, reconciler *conf.Reconciler) *stack {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	partner := &fakePartnerAPI{payStatus: map[string]int{}, calls: map[string]int{}}
	partnerSrv := httptest.NewServer(partner)
	t.Cleanup(partnerSrv.Close)

	bc := &conf.Bootstrap{
		Server: &conf.Server{},
		Data:   &conf.Data{},
		Partner: &conf.Partner{
			BaseURL:        partnerSrv.URL,
			Account:        "caseprint",
			Password:       "secret-pass",
			SystemName:     "caseprint",
			Secret:         "k3y",
			RequestTimeout: "2s",
			RetryBaseDelay: "1ms",
			RetryMaxDelay:  "5ms",
		},
		Reconciler: reconciler,
	}
	bc.Server.Http.UserTimeout = "5s"
	bc.Data.Redis.Addr = mr.Addr()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "archive.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))

	rdb, err := data.NewRedis(bc)
	require.NoError(t, err)
	d, cleanup, err := data.NewData(bc, testLogger, db, rdb, data.NewRedsync(rdb))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	transport := data.NewPartnerTransport(bc, testLogger)
	pc := biz.NewPartnerConfig(bc)
	signer := biz.NewSigner(pc)
	session := biz.NewSessionManager(transport, signer, pc, testLogger)
	records := data.NewRecordRepo(d, testLogger)
	archive := data.NewArchiveRepo(d, testLogger)
	trail := biz.NewStatusTrail(archive, data.NewStatusEventPublisher(d, testLogger), testLogger)
	client := biz.NewOrderPaymentClient(transport, session, signer, biz.NewCorrelationIDGenerator(pc), records, trail, pc, testLogger)
	rc := biz.NewReconcilerConfig(bc)
	r := biz.NewStatusReconciler(client, records, trail, data.NewTickLocker(d, rc, testLogger), rc, testLogger)
	fulfillment := service.NewFulfillmentService(bc, client, r, archive, testLogger)

	return &stack{
		partner:    partner,
		reconciler: r,
		rc:         rc,
		http:       NewHTTPServer(bc, fulfillment, testLogger),
	}
}

func (s *stack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func (s *stack) submitPayment(t *testing.T) service.PaymentReply {
	t.Helper()
	rec := s.do(t, stdhttp.MethodPost, "/v1/payments",
		`{"model_id":"M1","amount":"12.50","pay_type":1,"image_url":"https://cdn.example.com/1.png"}`)
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	var reply service.PaymentReply
	decode(t, rec, &reply)
	return reply
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func reconcileConf() *conf.Reconciler {
	return &conf.Reconciler{
		Enabled:         true,
		Interval:        "1s",
		TickTimeout:     "10s",
		StalenessWindow: "1ms",
		BackoffBase:     "1s",
		MaxPollFailures: 3,
	}
}
