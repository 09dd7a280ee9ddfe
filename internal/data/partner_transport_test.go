package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/constants"
	caseErrors "caseprint-service/internal/errors"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, h http.HandlerFunc) *partnerTransport {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := resty.New().
		SetBaseURL(srv.URL).
		SetTimeout(time.Second).
		SetHeader("Content-Type", "application/json")
	return newPartnerTransport(client, testLogger)
}

func TestPartnerTransport_Post(t *testing.T) {
	var (
		gotHeader http.Header
		gotBody   map[string]any
		gotPath   string
	)
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok","data":{"id":"PAY-1","third_id":"PYEN250314000001"}}`))
	})

	resp, err := tr.Post(context.Background(), &biz.PartnerRequest{
		Path:  "/api/pay/submit",
		Token: "tok-1",
		Sign:  "abc123",
		Body:  map[string]any{"third_id": "PYEN250314000001", "pay_amount": "12.50"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
	assert.JSONEq(t, `{"id":"PAY-1","third_id":"PYEN250314000001"}`, string(resp.Data))

	assert.Equal(t, "/api/pay/submit", gotPath)
	assert.Equal(t, "tok-1", gotHeader.Get(constants.HeaderAuthorization))
	assert.Equal(t, "abc123", gotHeader.Get(constants.HeaderSign))
	assert.Equal(t, constants.ReqSourceEN, gotHeader.Get(constants.HeaderReqSource))
	assert.Equal(t, "12.50", gotBody["pay_amount"])
}

func TestPartnerTransport_LoginHasNoAuthorization(t *testing.T) {
	var gotHeader http.Header
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok","data":"tok-1"}`))
	})

	_, err := tr.Post(context.Background(), &biz.PartnerRequest{Path: "/api/login", Sign: "s", Body: map[string]any{"account": "a"}})
	require.NoError(t, err)
	assert.Empty(t, gotHeader.Get(constants.HeaderAuthorization))
}

func TestPartnerTransport_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  int
		transport bool
	}{
		{name: "business rejection passes through", status: http.StatusOK, body: `{"code":4001,"msg":"model offline"}`, wantCode: 4001},
		{name: "http 401 maps to code 401", status: http.StatusUnauthorized, body: `unauthorized`, wantCode: constants.PartnerCodeUnauthorized},
		{name: "http 5xx is a transport error", status: http.StatusBadGateway, body: `bad gateway`, transport: true},
		{name: "undecodable body is a transport error", status: http.StatusOK, body: `<html>`, transport: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			resp, err := tr.Post(context.Background(), &biz.PartnerRequest{Path: "/api/pay/query", Token: "t"})
			if tt.transport {
				require.Error(t, err)
				assert.True(t, caseErrors.IsTransport(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestPartnerTransport_Timeout(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Post(ctx, &biz.PartnerRequest{Path: "/api/pay/query"})
	require.Error(t, err)
	assert.True(t, caseErrors.IsTransport(err))
}
