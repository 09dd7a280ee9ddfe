package data

import (
	"context"
	"testing"
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveRepo_ArchivePayment(t *testing.T) {
	repo := NewArchiveRepo(setupTestDB(t), testLogger)
	ctx := context.Background()

	p := newPayment("PYEN250314000001")
	p.Status = biz.PaymentStatusFailed
	p.Diagnostic = "4001/model offline"
	p.Tracking = false
	require.NoError(t, repo.ArchivePayment(ctx, p))

	got, err := repo.FindPayment(ctx, p.CorrelationID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, biz.PaymentStatusFailed, got.Status)
	assert.Equal(t, "4001/model offline", got.Diagnostic)
	assert.True(t, p.Amount.Equal(got.Amount))
	assert.False(t, got.Tracking)

	// 重复归档覆盖旧值
	p.Status = biz.PaymentStatusUnknown
	p.Stalled = true
	require.NoError(t, repo.ArchivePayment(ctx, p))
	got, err = repo.FindPayment(ctx, p.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, biz.PaymentStatusUnknown, got.Status)
	assert.True(t, got.Stalled)

	missing, err := repo.FindPayment(ctx, "PYEN250314000999")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestArchiveRepo_ArchiveOrder(t *testing.T) {
	repo := NewArchiveRepo(setupTestDB(t), testLogger)
	ctx := context.Background()

	o := newOrder("OREN250314000001")
	queue := 4
	o.QueueNumber = &queue
	o.Status = biz.OrderStatusShipped
	require.NoError(t, repo.ArchiveOrder(ctx, o))

	got, err := repo.FindOrder(ctx, o.CorrelationID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, biz.OrderStatusShipped, got.Status)
	require.NotNil(t, got.QueueNumber)
	assert.Equal(t, 4, *got.QueueNumber)

	missing, err := repo.FindOrder(ctx, "OREN250314000999")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestArchiveRepo_Transitions(t *testing.T) {
	repo := NewArchiveRepo(setupTestDB(t), testLogger)
	ctx := context.Background()
	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	steps := []*biz.StatusTransition{
		{CorrelationID: "PYEN250314000001", Kind: constants.RecordKindPayment, From: 0, To: 1, Source: constants.StatusSourceSubmit, At: at},
		{CorrelationID: "PYEN250314000002", Kind: constants.RecordKindPayment, From: 0, To: 1, Source: constants.StatusSourceSubmit, At: at},
		{CorrelationID: "PYEN250314000001", Kind: constants.RecordKindPayment, From: 1, To: 2, Source: constants.StatusSourcePush, At: at.Add(time.Second)},
		{CorrelationID: "PYEN250314000001", Kind: constants.RecordKindPayment, From: 2, To: 3, Source: constants.StatusSourcePoll, At: at.Add(time.Minute)},
	}
	for _, s := range steps {
		require.NoError(t, repo.RecordTransition(ctx, s))
	}

	list, err := repo.ListTransitions(ctx, "PYEN250314000001")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, constants.StatusSourceSubmit, list[0].Source)
	assert.Equal(t, constants.StatusSourcePush, list[1].Source)
	assert.Equal(t, int32(3), list[2].To)
	assert.Equal(t, int32(2), list[2].From)

	none, err := repo.ListTransitions(ctx, "OREN250314000001")
	require.NoError(t, err)
	assert.Empty(t, none)
}
