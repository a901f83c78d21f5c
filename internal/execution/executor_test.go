package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"github.com/Bumblebee0427/Crypto/internal/config"
	"github.com/Bumblebee0427/Crypto/internal/exchange"
	"github.com/Bumblebee0427/Crypto/internal/plan"
	"github.com/Bumblebee0427/Crypto/internal/position"
	"github.com/Bumblebee0427/Crypto/internal/sizing"
)

type mockGateway struct {
	calls []string

	leverageErr error
	priceErr    error
	marketErr   error
	orderErrs   []error
	orderCount  int

	minLot  float64
	lotStep float64

	lastReduceOnly   bool
	lastPositionSide string
	lastAmount       float64
}

func (m *mockGateway) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	m.calls = append(m.calls, "FetchLastPrice:"+symbol)
	if m.priceErr != nil {
		return 0, m.priceErr
	}
	return 100, nil
}

func (m *mockGateway) FetchMarketInfo(ctx context.Context, symbol string) (exchange.MarketInfo, error) {
	m.calls = append(m.calls, "FetchMarketInfo:"+symbol)
	if m.marketErr != nil {
		return exchange.MarketInfo{}, m.marketErr
	}
	lotStep := m.lotStep
	if lotStep == 0 {
		lotStep = 1
	}
	return exchange.MarketInfo{Symbol: symbol, MinLot: m.minLot, LotStep: lotStep}, nil
}

func (m *mockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.calls = append(m.calls, "SetLeverage:"+symbol)
	return m.leverageErr
}

func (m *mockGateway) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, positionSide string, reduceOnly bool) (exchange.OrderRecord, error) {
	m.calls = append(m.calls, "CreateMarketOrder:"+symbol)
	m.lastReduceOnly = reduceOnly
	m.lastPositionSide = positionSide
	m.lastAmount = amount

	idx := m.orderCount
	m.orderCount++
	if idx < len(m.orderErrs) && m.orderErrs[idx] != nil {
		return exchange.OrderRecord{}, m.orderErrs[idx]
	}
	return exchange.OrderRecord{ID: fmt.Sprintf("order-%d", m.orderCount), Symbol: symbol, Side: side, Amount: amount}, nil
}

func testExecConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		Leverage:          1,
		OrderDelay:        time.Millisecond,
		MaxRetry:          3,
		RetryBaseDelay:    time.Millisecond,
		RateLimitCooldown: 30 * time.Millisecond,
	}
}

func testSizer() *sizing.Sizer {
	return sizing.NewSizer(5, 1, 1000)
}

func retryableErr() error {
	return &ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"}
}

func rateLimitErr() error {
	return &ccxt.Error{Type: ccxt.RateLimitExceededErrType, Message: "too many requests"}
}

func TestExecute_SubmitsSequentially(t *testing.T) {
	gateway := &mockGateway{}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideSell, Quantity: 3, PositionSide: position.SideLong, Kind: plan.KindClose},
		{Symbol: "BTCUSDT", Side: plan.SideSell, Quantity: 4, PositionSide: position.SideShort, Kind: plan.KindAdjust},
	}

	report, err := exec.Execute(context.Background(), actions)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
	for i, result := range report.Results {
		if result.Outcome != OutcomeFilled {
			t.Errorf("result %d outcome = %s, want filled (%s)", i, result.Outcome, result.Error)
		}
		if result.OrderID == "" {
			t.Errorf("result %d missing order id", i)
		}
	}

	expected := []string{
		"SetLeverage:BTCUSDT", "FetchLastPrice:BTCUSDT", "FetchMarketInfo:BTCUSDT", "CreateMarketOrder:BTCUSDT",
		"SetLeverage:BTCUSDT", "FetchLastPrice:BTCUSDT", "FetchMarketInfo:BTCUSDT", "CreateMarketOrder:BTCUSDT",
	}
	if len(gateway.calls) != len(expected) {
		t.Fatalf("unexpected call count: got %d want %d (%v)", len(gateway.calls), len(expected), gateway.calls)
	}
	for i, call := range expected {
		if gateway.calls[i] != call {
			t.Errorf("call %d mismatch: got %s want %s", i, gateway.calls[i], call)
		}
	}
}

func TestExecute_CloseSubmitsReduceOnlyUnmodified(t *testing.T) {
	gateway := &mockGateway{minLot: 1}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	// 0.02 名义价值仅 2 USDT，开仓会被加量，平仓必须原样放行。
	actions := []plan.Action{
		{Symbol: "ETHUSDT", Side: plan.SideSell, Quantity: 0.02, PositionSide: position.SideLong, Kind: plan.KindClose},
	}

	report, err := exec.Execute(context.Background(), actions)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Results[0].Outcome != OutcomeFilled {
		t.Fatalf("close outcome = %s (%s)", report.Results[0].Outcome, report.Results[0].Error)
	}
	if !gateway.lastReduceOnly {
		t.Errorf("close order should carry reduceOnly")
	}
	if gateway.lastAmount != 0.02 {
		t.Errorf("close quantity modified: got %v want 0.02", gateway.lastAmount)
	}
	if gateway.lastPositionSide != "LONG" {
		t.Errorf("unexpected positionSide: %s", gateway.lastPositionSide)
	}
}

func TestExecute_ContinuesAfterFailedLeg(t *testing.T) {
	gateway := &mockGateway{
		orderErrs: []error{errors.New("binance rejected order")},
	}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideBuy, Quantity: 2, PositionSide: position.SideLong, Kind: plan.KindAdjust},
		{Symbol: "ETHUSDT", Side: plan.SideBuy, Quantity: 3, PositionSide: position.SideLong, Kind: plan.KindAdjust},
	}

	report, err := exec.Execute(context.Background(), actions)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if report.Results[0].Outcome != OutcomeFailed {
		t.Errorf("first leg outcome = %s, want failed", report.Results[0].Outcome)
	}
	if report.Results[0].Error == "" {
		t.Errorf("failed leg must record its error")
	}
	if report.Results[1].Outcome != OutcomeFilled {
		t.Errorf("second leg outcome = %s, want filled", report.Results[1].Outcome)
	}
}

func TestExecute_RetriesTransientErrors(t *testing.T) {
	gateway := &mockGateway{
		orderErrs: []error{retryableErr(), retryableErr(), nil},
	}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideBuy, Quantity: 2, PositionSide: position.SideLong, Kind: plan.KindAdjust},
	}

	report, err := exec.Execute(context.Background(), actions)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Results[0].Outcome != OutcomeFilled {
		t.Fatalf("outcome = %s, want filled after retries (%s)", report.Results[0].Outcome, report.Results[0].Error)
	}
	if gateway.orderCount != 3 {
		t.Errorf("expected 3 submission attempts, got %d", gateway.orderCount)
	}
}

func TestExecute_TransientExhaustionFailsLeg(t *testing.T) {
	gateway := &mockGateway{
		orderErrs: []error{retryableErr(), retryableErr(), retryableErr()},
	}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideBuy, Quantity: 2, PositionSide: position.SideLong, Kind: plan.KindAdjust},
	}

	report, err := exec.Execute(context.Background(), actions)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Results[0].Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed after exhausting retries", report.Results[0].Outcome)
	}
	if gateway.orderCount != 3 {
		t.Errorf("expected 3 attempts, got %d", gateway.orderCount)
	}
}

func TestExecute_RateLimitUsesLongerCooldown(t *testing.T) {
	gateway := &mockGateway{
		orderErrs: []error{rateLimitErr(), nil},
	}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideBuy, Quantity: 2, PositionSide: position.SideLong, Kind: plan.KindAdjust},
	}

	start := time.Now()
	report, err := exec.Execute(context.Background(), actions)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Results[0].Outcome != OutcomeFilled {
		t.Fatalf("outcome = %s, want filled (%s)", report.Results[0].Outcome, report.Results[0].Error)
	}
	if elapsed < 25*time.Millisecond {
		t.Errorf("rate limit cooldown too short: %v", elapsed)
	}
}

func TestExecute_UsesMarketLotStep(t *testing.T) {
	// BTC 这类交易对步长 0.001，0.5 张的调仓不能被全局兜底步长 1 截断归零。
	gateway := &mockGateway{minLot: 0.001, lotStep: 0.001}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideBuy, Quantity: 0.5, PositionSide: position.SideLong, Kind: plan.KindAdjust},
	}

	report, err := exec.Execute(context.Background(), actions)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Results[0].Outcome != OutcomeFilled {
		t.Fatalf("outcome = %s, want filled (%s)", report.Results[0].Outcome, report.Results[0].Error)
	}
	if gateway.lastAmount != 0.5 {
		t.Errorf("submitted amount = %v, want 0.5", gateway.lastAmount)
	}
}

func TestExecute_SkipsBelowMarketMinimum(t *testing.T) {
	gateway := &mockGateway{minLot: 10}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideBuy, Quantity: 2, PositionSide: position.SideLong, Kind: plan.KindAdjust},
	}

	report, err := exec.Execute(context.Background(), actions)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Results[0].Outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", report.Results[0].Outcome)
	}
	if gateway.orderCount != 0 {
		t.Errorf("skipped leg must not submit an order")
	}
}

func TestExecute_LeverageFailureIsNonFatal(t *testing.T) {
	gateway := &mockGateway{leverageErr: errors.New("leverage not modified")}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideBuy, Quantity: 2, PositionSide: position.SideLong, Kind: plan.KindAdjust},
	}

	report, err := exec.Execute(context.Background(), actions)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Results[0].Outcome != OutcomeFilled {
		t.Errorf("outcome = %s, want filled despite leverage failure", report.Results[0].Outcome)
	}
}

func TestExecute_AuthErrorAbortsPlan(t *testing.T) {
	gateway := &mockGateway{
		orderErrs: []error{fmt.Errorf("%w: invalid api key", exchange.ErrAuth)},
	}
	exec := NewExecutor(gateway, testSizer(), testExecConfig(), nil)

	actions := []plan.Action{
		{Symbol: "BTCUSDT", Side: plan.SideBuy, Quantity: 2, PositionSide: position.SideLong, Kind: plan.KindAdjust},
		{Symbol: "ETHUSDT", Side: plan.SideBuy, Quantity: 3, PositionSide: position.SideLong, Kind: plan.KindAdjust},
	}

	report, err := exec.Execute(context.Background(), actions)
	if !errors.Is(err, exchange.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("expected execution to stop after auth failure, got %d results", len(report.Results))
	}
	if report.Results[0].Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", report.Results[0].Outcome)
	}
}

func TestReportCounts(t *testing.T) {
	report := Report{Results: []ActionResult{
		{Outcome: OutcomeFilled},
		{Outcome: OutcomeFilled},
		{Outcome: OutcomeSkipped},
		{Outcome: OutcomeFailed},
	}}

	filled, skipped, failed := report.Counts()
	if filled != 2 || skipped != 1 || failed != 1 {
		t.Errorf("Counts() = %d/%d/%d, want 2/1/1", filled, skipped, failed)
	}
}
