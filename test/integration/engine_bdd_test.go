//go:build integration

package integration

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/commitgate/commitd/internal/engine"
	"github.com/commitgate/commitd/internal/infra"
	"github.com/commitgate/commitd/internal/ledger"
)

// scriptedClock feeds the engine controlled wall/monotonic readings so the
// suite can simulate days passing and clocks being tampered with.
type scriptedClock struct {
	mu     sync.Mutex
	wallMs int64
	monoMs int64
}

func (c *scriptedClock) WallClockMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wallMs
}

func (c *scriptedClock) MonotonicMs() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monoMs, nil
}

func (c *scriptedClock) advance(wall, mono time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallMs += wall.Milliseconds()
	c.monoMs += mono.Milliseconds()
}

func (c *scriptedClock) setWall(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallMs = ms
}

var _ = Describe("Decision Engine over the encrypted store", func() {
	var (
		store   *infra.EncryptedStore
		penalty *ledger.PenaltyLedger
		grace   *ledger.GraceEconomy
		eng     *engine.Engine
		clock   *scriptedClock
		dataDir string
	)

	const day = 24 * time.Hour

	// Fixed origin: a Tuesday morning.
	origin := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).UnixMilli()

	openStack := func() {
		key, err := infra.NewFileKeyProvider(dataDir).EnsureKey()
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.NewEncryptedStore(dataDir, key)
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		penalty = ledger.NewPenaltyLedger(store, logger)
		grace = ledger.NewGraceEconomy(store, logger)
		eng = engine.New(engine.Config{}, store, penalty, grace, clock, logger)
	}

	BeforeEach(func() {
		dataDir = GinkgoT().TempDir()
		clock = &scriptedClock{wallMs: origin, monoMs: 1_000_000}
		openStack()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	tick := func() {
		ExpectWithOffset(1, eng.UpdateState(clock.WallClockMs())).To(Succeed())
	}

	Describe("a kept commitment", func() {
		It("never blocks and never spends grace", func() {
			Expect(store.SeedTask("t1", "write report", origin+int64(3*day/time.Millisecond), 0, false, false)).To(Succeed())
			Expect(grace.EarnGraceDay(origin)).To(Succeed())

			tick()
			Expect(eng.IsCurrentlyBlocked()).To(BeFalse())

			clock.advance(day, day)
			tick()
			Expect(eng.IsCurrentlyBlocked()).To(BeFalse())

			balance, err := grace.Balance()
			Expect(err).NotTo(HaveOccurred())
			Expect(balance).To(Equal(1))
		})
	})

	Describe("a missed deadline with no grace", func() {
		It("starts a 24h penalty that survives a process restart", func() {
			Expect(store.SeedTask("t1", "write report", origin+int64(day/time.Millisecond), 0, false, false)).To(Succeed())

			// Two days later the task is overdue.
			clock.advance(2*day, 2*day)
			tick()
			Expect(eng.IsCurrentlyBlocked()).To(BeTrue())

			count, err := penalty.ViolationCount()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))

			// Simulate process death: reopen everything on the same files.
			Expect(store.Close()).To(Succeed())
			openStack()

			active, err := penalty.IsPenaltyActive(clock.WallClockMs())
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeTrue(), "penalty window persisted across restart")
		})
	})

	Describe("a missed deadline with grace available", func() {
		It("burns one grace day instead of starting a penalty", func() {
			Expect(store.SeedTask("t1", "write report", origin+int64(day/time.Millisecond), 0, false, false)).To(Succeed())
			Expect(grace.EarnGraceDay(origin)).To(Succeed())
			Expect(grace.EarnGraceDay(origin)).To(Succeed())

			clock.advance(2*day, 2*day)
			tick()

			balance, err := grace.Balance()
			Expect(err).NotTo(HaveOccurred())
			Expect(balance).To(Equal(1))

			count, err := penalty.ViolationCount()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())

			// Pinned behavior: the task is still overdue, so the recomputed
			// flag stays true even though the violation was forgiven.
			Expect(eng.IsCurrentlyBlocked()).To(BeTrue())
		})
	})

	Describe("completing every task", func() {
		It("clears an active penalty and opens the gate", func() {
			Expect(store.SeedTask("t1", "write report", origin-int64(day/time.Millisecond), 0, false, false)).To(Succeed())

			tick()
			Expect(eng.IsCurrentlyBlocked()).To(BeTrue())

			Expect(store.SeedTask("t1", "write report", origin-int64(day/time.Millisecond), 0, false, true)).To(Succeed())
			clock.advance(time.Minute, time.Minute)
			tick()

			Expect(eng.IsCurrentlyBlocked()).To(BeFalse())
			active, err := penalty.IsPenaltyActive(clock.WallClockMs())
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeFalse())
		})
	})

	Describe("setting the wall clock backward", func() {
		It("is detected and punished even with no violations", func() {
			Expect(store.SeedTask("t1", "write report", origin+int64(10*day/time.Millisecond), 0, false, false)).To(Succeed())

			tick()
			Expect(eng.IsCurrentlyBlocked()).To(BeFalse())

			// The device lives through an hour, but the wall clock is wound
			// back a day.
			clock.advance(0, time.Hour)
			clock.setWall(origin - day.Milliseconds())
			tick()

			Expect(eng.IsCurrentlyBlocked()).To(BeTrue())
			count, err := penalty.ViolationCount()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))

			// Fresh checkpoints were saved: the next honest tick does not
			// re-punish the same event.
			clock.advance(time.Minute, time.Minute)
			tick()
			count, err = penalty.ViolationCount()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})
	})

	Describe("hardness commitments", func() {
		It("triggers before the raw deadline", func() {
			// Due in 2 days, but hardness demands 3 days of lead time.
			Expect(store.SeedTask("t1", "conference talk", origin+int64(2*day/time.Millisecond), 3, false, false)).To(Succeed())

			tick()
			Expect(eng.IsCurrentlyBlocked()).To(BeTrue(), "hardness violated although not yet overdue")

			count, err := penalty.ViolationCount()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})
	})

	Describe("the bonus-task economy", func() {
		It("converts five credits into a grace day that then absorbs a violation", func() {
			Expect(store.SeedTask("t1", "write report", origin+int64(day/time.Millisecond), 0, false, false)).To(Succeed())

			Expect(grace.AddBonusTaskCredit(5)).To(Succeed())
			ok, err := grace.TryExchangeBonusForGrace(clock.WallClockMs())
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			clock.advance(2*day, 2*day)
			tick()

			count, err := penalty.ViolationCount()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero(), "the exchanged grace day absorbed the violation")
		})
	})
})
