package renewal

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
)

// FeeCalculatorConfig holds the configurable rates of the calculator.
type FeeCalculatorConfig struct {
	// GraceSurchargeFactor multiplies the fee of a late task inside a grace
	// period. Values ≤ 0 fall back to 1 (no surcharge).
	GraceSurchargeFactor decimal.Decimal
	// DefaultVATRate applies when the client has no specific rate.
	DefaultVATRate decimal.Decimal
	// Concurrency bounds the parallel fee-schedule lookups of CalculateBatch.
	Concurrency int
}

// FeeCalculator turns a task snapshot and client attributes into a
// Breakdown. It has no side effects; identical inputs give identical output.
type FeeCalculator struct {
	fees   domainRenewal.FeeScheduleRepository
	logger Logger
	now    func() time.Time

	mu  sync.RWMutex
	cfg FeeCalculatorConfig
}

// NewFeeCalculator builds a calculator. fees may be nil, in which case every
// task uses its stored cost and fee.
func NewFeeCalculator(fees domainRenewal.FeeScheduleRepository, logger Logger, cfg FeeCalculatorConfig) *FeeCalculator {
	if !cfg.GraceSurchargeFactor.IsPositive() {
		cfg.GraceSurchargeFactor = decimal.NewFromInt(1)
	}
	if !validVATRate(cfg.DefaultVATRate) {
		cfg.DefaultVATRate = decimal.Zero
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &FeeCalculator{fees: fees, logger: orNop(logger), cfg: cfg, now: time.Now}
}

// SetClock replaces the time source used to judge lateness of open tasks.
func (c *FeeCalculator) SetClock(now func() time.Time) {
	c.now = now
}

// SetGraceSurchargeFactor updates the surcharge factor at runtime.
func (c *FeeCalculator) SetGraceSurchargeFactor(f decimal.Decimal) {
	if !f.IsPositive() {
		return
	}
	c.mu.Lock()
	c.cfg.GraceSurchargeFactor = f
	c.mu.Unlock()
}

func (c *FeeCalculator) rates() (factor, vat decimal.Decimal) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.GraceSurchargeFactor, c.cfg.DefaultVATRate
}

var one = decimal.NewFromInt(1)

// Calculate computes the breakdown of one task:
//
//  1. base cost/fee: stored values, or the fee-schedule row for table-driven
//     tasks (SME variant when the client is an SME and the row has one);
//  2. grace surcharge on the fee when gracePeriod > 0 and the task is late;
//  3. discount (task discount, else client discount): > 1 replaces the fee,
//     (0, 1] reduces it by that fraction, ≤ 0 is ignored;
//  4. VAT on the fee at the client rate, else the default rate. Rates are
//     fractions in [0, 1); a client rate outside that range is ignored.
//
// Amounts are clamped at zero and rounded to two decimals.
func (c *FeeCalculator) Calculate(ctx context.Context, task *domainRenewal.Task, attrs domainRenewal.ClientAttributes) domainRenewal.Breakdown {
	if task == nil {
		return zeroBreakdown(0)
	}

	factor, defaultRate := c.rates()
	cost, fee := c.base(ctx, task, attrs)

	if task.GracePeriod > 0 && task.IsLate(c.now()) {
		fee = fee.Mul(factor)
	}

	discount := task.Discount
	if !discount.Valid {
		discount = attrs.Discount
	}
	if discount.Valid {
		switch {
		case discount.Decimal.GreaterThan(one):
			fee = discount.Decimal
		case discount.Decimal.IsPositive():
			fee = fee.Mul(one.Sub(discount.Decimal))
		}
	}

	cost = clampRound(cost)
	fee = clampRound(fee)

	rate := defaultRate
	if attrs.VATRate.Valid {
		if validVATRate(attrs.VATRate.Decimal) {
			rate = attrs.VATRate.Decimal
		} else {
			c.logger.Warn("client vat rate out of range, using default",
				"task_id", task.ID, "rate", attrs.VATRate.Decimal.String(), "default", defaultRate.String())
		}
	}

	vat := clampRound(fee.Mul(rate))
	total := cost.Add(fee)

	return domainRenewal.Breakdown{
		TaskID:       task.ID,
		Cost:         cost,
		Fee:          fee,
		VATRate:      rate,
		VATAmount:    vat,
		Total:        total,
		TotalWithVAT: total.Add(vat),
	}
}

func validVATRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThan(one)
}

// CalculateTask uses the client loaded on the task's matter.
func (c *FeeCalculator) CalculateTask(ctx context.Context, task *domainRenewal.Task) domainRenewal.Breakdown {
	return c.Calculate(ctx, task, task.Client().Attributes())
}

// CalculateBatch computes every task independently. The result for each id
// equals CalculateTask on that task alone.
func (c *FeeCalculator) CalculateBatch(ctx context.Context, tasks []*domainRenewal.Task) map[int64]domainRenewal.Breakdown {
	out := make(map[int64]domainRenewal.Breakdown, len(tasks))
	var mu sync.Mutex

	g := new(errgroup.Group)
	c.mu.RLock()
	g.SetLimit(c.cfg.Concurrency)
	c.mu.RUnlock()
	for _, t := range tasks {
		if t == nil {
			continue
		}
		task := t
		g.Go(func() error {
			b := c.CalculateTask(ctx, task)
			mu.Lock()
			out[task.ID] = b
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// base resolves the starting cost and fee. Lookup failures and missing rows
// fall back to the values stored on the task.
func (c *FeeCalculator) base(ctx context.Context, task *domainRenewal.Task, attrs domainRenewal.ClientAttributes) (decimal.Decimal, decimal.Decimal) {
	cost, fee := task.Cost, task.Fee
	if !task.TableDriven || c.fees == nil || task.Matter == nil {
		return cost, fee
	}

	asOf := task.DueDate
	rule, err := c.fees.Lookup(ctx, domainRenewal.FeeQuery{
		Category: task.Matter.Category,
		Country:  task.Matter.Country,
		Origin:   task.Matter.Origin,
		Qt:       task.Qt,
		AsOf:     asOf,
	})
	if err != nil {
		c.logger.Warn("fee schedule lookup failed, using stored amounts", "task_id", task.ID, "error", err)
		return cost, fee
	}
	if rule == nil || !rule.Applies(asOf) {
		return cost, fee
	}

	cost, fee = rule.Cost, rule.Fee
	if attrs.SME {
		if rule.CostSME.Valid {
			cost = rule.CostSME.Decimal
		}
		if rule.FeeSME.Valid {
			fee = rule.FeeSME.Decimal
		}
	}
	return cost, fee
}

func clampRound(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}

func zeroBreakdown(id int64) domainRenewal.Breakdown {
	return domainRenewal.Breakdown{
		TaskID:       id,
		Cost:         decimal.Zero,
		Fee:          decimal.Zero,
		VATRate:      decimal.Zero,
		VATAmount:    decimal.Zero,
		Total:        decimal.Zero,
		TotalWithVAT: decimal.Zero,
	}
}
