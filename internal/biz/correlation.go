package biz

import (
	"fmt"
	"sync"
	"time"

	"caseprint-service/internal/constants"
)

const (
	correlationSeqSpace = 1_000_000
	// 每个序号槽对应 86.4ms
	nanosPerSlot = int64(24*time.Hour) / correlationSeqSpace
)

type daySequence struct {
	day  string
	last int64
}

// CorrelationIDGenerator 生成合作方关联ID：前缀 + yyMMdd + 6 位序号
// 序号按天单调递增，起点取当前时刻在一天内的位置，进程重启后仍接近墙钟
type CorrelationIDGenerator struct {
	mu   sync.Mutex
	loc  *time.Location
	seqs map[string]*daySequence

	now func() time.Time
}

// NewCorrelationIDGenerator 创建 CorrelationIDGenerator
func NewCorrelationIDGenerator(c *PartnerConfig) *CorrelationIDGenerator {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return &CorrelationIDGenerator{
		loc:  loc,
		seqs: make(map[string]*daySequence),
		now:  time.Now,
	}
}

// Next 生成下一个关联ID，当天序号空间耗尽时返回错误
func (g *CorrelationIDGenerator) Next(prefix string) (string, error) {
	if prefix != constants.CorrelationPrefixPayment && prefix != constants.CorrelationPrefixOrder {
		return "", fmt.Errorf("unsupported correlation prefix %q", prefix)
	}

	t := g.now().In(g.loc)
	day := t.Format(constants.CorrelationDateLayout)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, g.loc)
	slot := int64(t.Sub(midnight)) / nanosPerSlot
	if slot >= correlationSeqSpace {
		slot = correlationSeqSpace - 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	seq, ok := g.seqs[prefix]
	if !ok || seq.day != day {
		seq = &daySequence{day: day, last: -1}
		g.seqs[prefix] = seq
	}
	next := seq.last + 1
	if slot > next {
		next = slot
	}
	if next >= correlationSeqSpace {
		return "", fmt.Errorf("correlation sequence exhausted for %s%s", prefix, day)
	}
	seq.last = next
	return fmt.Sprintf("%s%s%06d", prefix, day, next), nil
}
