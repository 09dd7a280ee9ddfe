package biz

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"caseprint-service/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedGenerator(at time.Time) *CorrelationIDGenerator {
	g := NewCorrelationIDGenerator(&PartnerConfig{Location: time.UTC})
	g.now = func() time.Time { return at }
	return g
}

func TestCorrelationIDGenerator_Format(t *testing.T) {
	// 0.5s 落在第 5 个 86.4ms 槽
	g := fixedGenerator(time.Date(2025, 1, 2, 0, 0, 0, 500_000_000, time.UTC))

	id, err := g.Next(constants.CorrelationPrefixPayment)
	require.NoError(t, err)
	assert.Equal(t, "PYEN250102000005", id)

	id, err = g.Next(constants.CorrelationPrefixPayment)
	require.NoError(t, err)
	assert.Equal(t, "PYEN250102000006", id)

	// 前缀各自独立计数
	id, err = g.Next(constants.CorrelationPrefixOrder)
	require.NoError(t, err)
	assert.Equal(t, "OREN250102000005", id)
}

func TestCorrelationIDGenerator_UniqueWithinSecond(t *testing.T) {
	g := fixedGenerator(time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC))
	pattern := regexp.MustCompile(`^PYEN\d{12}$`)

	seen := make(map[string]bool, 1000)
	prev := ""
	for i := 0; i < 1000; i++ {
		id, err := g.Next(constants.CorrelationPrefixPayment)
		require.NoError(t, err)
		require.Regexp(t, pattern, id)
		require.False(t, seen[id], "duplicate id %s", id)
		require.Greater(t, id, prev)
		seen[id] = true
		prev = id
	}
}

func TestCorrelationIDGenerator_Concurrent(t *testing.T) {
	g := NewCorrelationIDGenerator(&PartnerConfig{Location: time.UTC})

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := g.Next(constants.CorrelationPrefixOrder)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}

func TestCorrelationIDGenerator_DayRollover(t *testing.T) {
	at := time.Date(2025, 3, 14, 23, 59, 59, 0, time.UTC)
	g := fixedGenerator(at)

	id, err := g.Next(constants.CorrelationPrefixPayment)
	require.NoError(t, err)
	assert.Equal(t, "PYEN250314999988", id)

	g.now = func() time.Time { return at.Add(2 * time.Second) }
	id, err = g.Next(constants.CorrelationPrefixPayment)
	require.NoError(t, err)
	assert.Equal(t, "PYEN250315000011", id)
}

func TestCorrelationIDGenerator_Exhausted(t *testing.T) {
	g := fixedGenerator(time.Date(2025, 3, 14, 23, 59, 59, 990_000_000, time.UTC))

	id, err := g.Next(constants.CorrelationPrefixPayment)
	require.NoError(t, err)
	assert.Equal(t, "PYEN250314999999", id)

	_, err = g.Next(constants.CorrelationPrefixPayment)
	assert.Error(t, err)
}

func TestCorrelationIDGenerator_RejectsUnknownPrefix(t *testing.T) {
	g := NewCorrelationIDGenerator(&PartnerConfig{})
	_, err := g.Next("XXEN")
	assert.Error(t, err)
}
