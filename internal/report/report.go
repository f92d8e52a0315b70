// Package report writes text and CSV reports summarizing a backtest or a
// live trading session: a human-readable summary, a trades CSV, a daily
// P&L CSV and an equity-curve CSV (spec.md section 6, "Reports (exposed)").
// Grounded on the teacher's internal/backtester/metrics.go report-shape and
// pkg/utils's decimal-based performance-statistics helpers, which this
// package is the first live caller of.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/backtest"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

// Run bundles an identity and timestamp with the result it reports on, so
// report artifacts written to ReportDir can be told apart and re-associated
// with a specific backtest or live session.
type Run struct {
	ID        string
	Generated time.Time
	Result    *backtest.Result
}

// NewRun stamps a fresh report identity for result.
func NewRun(result *backtest.Result) *Run {
	return &Run{ID: uuid.New().String(), Generated: time.Now().UTC(), Result: result}
}

// equityAsDecimal converts the equity curve's lamport capital samples to
// decimal SOL, the unit pkg/utils's statistics helpers operate on.
func (r *Run) equityAsDecimal() []decimal.Decimal {
	out := make([]decimal.Decimal, len(r.Result.EquityCurve))
	for i, p := range r.Result.EquityCurve {
		out[i] = decimal.NewFromFloat(float64(p.Capital) / 1e9)
	}
	return out
}

// tradePnLs derives one decimal P&L value per closed trade from the
// daily ledger's aggregate realized P&L, split evenly across trades absent
// a per-trade breakdown in types.Order; used only for win-rate-shaped
// statistics when no finer-grained series is available.
func (r *Run) tradePnLs() []decimal.Decimal {
	pnl := r.Result.DailyPnL
	if pnl.TradeCount == 0 {
		return nil
	}
	avg := decimal.NewFromFloat(float64(pnl.Realized) / 1e9 / float64(pnl.TradeCount))
	out := make([]decimal.Decimal, pnl.TradeCount)
	for i := range out {
		out[i] = avg
	}
	return out
}

// WriteSummary writes a human-readable text summary of the run: trade
// count, win rate, profit factor, max drawdown, Sharpe ratio and final
// capital, in SOL.
func (r *Run) WriteSummary(w io.Writer) error {
	equity := r.equityAsDecimal()
	pnls := r.tradePnLs()
	finalCapital := decimal.NewFromFloat(float64(r.Result.FinalCapital) / 1e9)

	lines := []string{
		fmt.Sprintf("report %s generated %s", r.ID, r.Generated.Format(time.RFC3339)),
		fmt.Sprintf("trades:        %d (%d wins / %d losses)", r.Result.DailyPnL.TradeCount, r.Result.DailyPnL.Wins, r.Result.DailyPnL.Losses),
		fmt.Sprintf("win rate:      %s%%", utils.CalculateWinRate(pnls).Mul(decimal.NewFromInt(100)).StringFixed(1)),
		fmt.Sprintf("profit factor: %s", utils.CalculateProfitFactor(pnls).StringFixed(2)),
		fmt.Sprintf("max drawdown:  %s%%", utils.CalculateMaxDrawdown(equity).Mul(decimal.NewFromInt(100)).StringFixed(2)),
		fmt.Sprintf("sharpe ratio:  %s", utils.CalculateSharpeRatio(utils.CalculateReturns(equity), decimal.Zero, 365).StringFixed(2)),
		fmt.Sprintf("final capital: %s", utils.FormatMoney(finalCapital, "SOL")),
		fmt.Sprintf("kill switch triggered: %v", r.Result.DailyPnL.KillSwitchTriggered),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// WriteTradesCSV writes one row per filled order, ISO-8601 timestamps
// throughout, matching spec.md section 8's replay-determinism property
// ("backtest produces byte-identical trade CSVs" given identical inputs).
func (r *Run) WriteTradesCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"id", "token", "side", "amount_lamports", "slippage_bps", "priority_fee_lamports", "fee_lamports", "status", "wallet", "route", "retries", "created_at", "updated_at"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, o := range r.Result.Trades {
		row := []string{
			o.ID, o.Token.String(), string(o.Side),
			strconv.FormatUint(uint64(o.Amount), 10),
			strconv.Itoa(o.SlippageBps),
			strconv.FormatUint(uint64(o.PriorityFee), 10),
			strconv.FormatUint(uint64(o.FeeLamports), 10),
			string(o.Status), o.Wallet, o.Route,
			strconv.Itoa(o.Retries),
			o.CreatedAt.Time().Format(time.RFC3339),
			o.UpdatedAt.Time().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}

// WriteEquityCurveCSV writes one row per recorded equity sample.
func (r *Run) WriteEquityCurveCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"time", "capital_lamports", "capital_sol"}); err != nil {
		return err
	}
	for _, p := range r.Result.EquityCurve {
		row := []string{
			p.Time.Time().Format(time.RFC3339),
			strconv.FormatUint(uint64(p.Capital), 10),
			decimal.NewFromFloat(float64(p.Capital) / 1e9).StringFixed(9),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}

// WriteDailyPnLCSV writes the day's aggregate P&L ledger as a single CSV
// row beside the per-trade and equity-curve detail, for dashboards that
// only want the roll-up.
func WriteDailyPnLCSV(w io.Writer, pnl types.DailyPnL) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"date", "starting_capital_lamports", "realized_lamports", "unrealized_lamports", "trade_count", "wins", "losses", "limit_hit", "trading_paused", "kill_switch_triggered"}
	if err := cw.Write(header); err != nil {
		return err
	}
	row := []string{
		pnl.Date,
		strconv.FormatUint(uint64(pnl.StartingCapital), 10),
		strconv.FormatInt(int64(pnl.Realized), 10),
		strconv.FormatInt(int64(pnl.Unrealized), 10),
		strconv.Itoa(pnl.TradeCount),
		strconv.Itoa(pnl.Wins),
		strconv.Itoa(pnl.Losses),
		strconv.FormatBool(pnl.LimitHit),
		strconv.FormatBool(pnl.TradingPaused),
		strconv.FormatBool(pnl.KillSwitchTriggered),
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	return cw.Error()
}
