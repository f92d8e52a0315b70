package backtest_test

import (
	"strings"
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/backtest"
)

const sampleFixtureYAML = `
tokens:
  - token: "0x0000000000000000000000000000000000000000000000000000000000000001"
    events:
      - type: launched
        time: 0
        creator: creator-1
      - type: progress
        time: 1000
        progress_pct: 10
        in_entry_zone: true
      - type: trade
        time: 2000
        side: buy
        trader: trader-1
        sol_amount: 2000000000
        token_amount: 50000
      - type: migration
        time: 21000
        final_progress_pct: 100
`

func TestLoadTimelinesYAML(t *testing.T) {
	timelines, err := backtest.LoadTimelinesYAML(strings.NewReader(sampleFixtureYAML))
	if err != nil {
		t.Fatalf("LoadTimelinesYAML error: %v", err)
	}
	if len(timelines) != 1 {
		t.Fatalf("got %d timelines, want 1", len(timelines))
	}
	if len(timelines[0].Events) != 4 {
		t.Fatalf("got %d events, want 4", len(timelines[0].Events))
	}
}

func TestLoadTimelinesYAMLRejectsUnknownEventType(t *testing.T) {
	bad := `
tokens:
  - token: "0x0000000000000000000000000000000000000000000000000000000000000001"
    events:
      - type: bogus
        time: 0
`
	if _, err := backtest.LoadTimelinesYAML(strings.NewReader(bad)); err == nil {
		t.Fatalf("expected an error for an unknown fixture event type")
	}
}
