package dashboard_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/dashboard"
	"github.com/atlas-desktop/trading-backend/internal/orchestrator"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type fakeSource struct {
	state     orchestrator.State
	positions []*types.Position
	rankings  []types.RankEntry
	risk      types.DailyPnL
}

func (f *fakeSource) State() orchestrator.State                         { return f.state }
func (f *fakeSource) Health() map[string]orchestrator.ServiceHealth      { return nil }
func (f *fakeSource) OpenPositions() []*types.Position                  { return f.positions }
func (f *fakeSource) Rankings() []types.RankEntry                       { return f.rankings }
func (f *fakeSource) RiskSnapshot() types.DailyPnL                      { return f.risk }

func setupTestDashboard(t *testing.T) (*dashboard.Dashboard, *httptest.Server) {
	src := &fakeSource{
		state: orchestrator.StateRunning,
		positions: []*types.Position{
			{ID: "pos-1", Token: types.TokenId{1}, EntryPrice: 1.0, CurrentPrice: 2.0},
		},
		rankings: []types.RankEntry{{Token: types.TokenId{1}, Rank: 1, Score: 90}},
		risk:     types.DailyPnL{TradeCount: 3, Wins: 2, Losses: 1},
	}
	d := dashboard.New(dashboard.DefaultConfig(), src, zap.NewNop())
	ts := httptest.NewServer(d.Router())
	return d, ts
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := setupTestDashboard(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["state"] != string(orchestrator.StateRunning) {
		t.Errorf("state = %v, want RUNNING", body["state"])
	}
}

func TestRankingsEndpoint(t *testing.T) {
	_, ts := setupTestDashboard(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/rankings")
	if err != nil {
		t.Fatalf("rankings request failed: %v", err)
	}
	defer resp.Body.Close()

	var entries []types.RankEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Rank != 1 {
		t.Errorf("entries = %+v, want one rank-1 entry", entries)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := setupTestDashboard(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
