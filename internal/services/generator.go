package services

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"mockdash/internal/clock"
	"mockdash/internal/core"
)

// Generator produces mock transaction records. It is safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	clock clock.Clock
}

// NewGenerator returns a generator drawing from src. A nil src seeds a PCG
// source from the runtime's random state.
func NewGenerator(src rand.Source, clk clock.Clock) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	if clk == nil {
		clk = clock.NewSystem(nil)
	}
	return &Generator{rnd: rand.New(src), clock: clk}
}

// NewSeededGenerator returns a deterministic generator, for tests and demos.
func NewSeededGenerator(seed uint64, clk clock.Clock) *Generator {
	return NewGenerator(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15), clk)
}

// Code returns "T" followed by nine characters drawn uniformly from A-Z0-9.
// Codes are not guaranteed unique.
func (g *Generator) Code() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.code()
}

func (g *Generator) code() string {
	var b strings.Builder
	b.Grow(core.CodeLength)
	b.WriteString(core.CodePrefix)
	for i := len(core.CodePrefix); i < core.CodeLength; i++ {
		b.WriteByte(core.CodeCharset[g.rnd.IntN(len(core.CodeCharset))])
	}
	return b.String()
}

// Amount returns a uniformly chosen member of core.AllowedAmounts.
func (g *Generator) Amount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.amount()
}

func (g *Generator) amount() int {
	return core.AllowedAmounts[g.rnd.IntN(len(core.AllowedAmounts))]
}

// PhoneFragment returns a redacted number such as "+2547123...".
func (g *Generator) PhoneFragment() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phone()
}

func (g *Generator) phone() string {
	return core.PhonePrefix + strconv.Itoa(100+g.rnd.IntN(900)) + core.PhoneSuffix
}

// Record returns one transaction stamped with the clock's current time.
func (g *Generator) Record() core.TransactionRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record(g.clock.Now())
}

func (g *Generator) record(at time.Time) core.TransactionRecord {
	return core.TransactionRecord{
		Code:        g.code(),
		Amount:      g.amount(),
		Phone:       g.phone(),
		GeneratedAt: at,
	}
}

// Batch returns core.BatchSize fresh records sharing one timestamp, which is
// also the batch's UpdatedAt.
func (g *Generator) Batch() core.TransactionBatch {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	items := make([]core.TransactionRecord, core.BatchSize)
	for i := range items {
		items[i] = g.record(now)
	}
	return core.TransactionBatch{Items: items, UpdatedAt: now}
}
