package backtest

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/atlas-desktop/trading-backend/internal/eventsource"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// fixtureFile is the on-disk YAML shape for a set of token timelines fed to
// the backtest engine offline, so a historical replay doesn't require a
// running event source. One YAML document holds every token's timeline.
type fixtureFile struct {
	Tokens []fixtureToken `yaml:"tokens"`
}

type fixtureToken struct {
	Token  string          `yaml:"token"`
	Events []fixtureEvent  `yaml:"events"`
}

type fixtureEvent struct {
	Type string `yaml:"type"` // launched | progress | trade | migration

	Time types.Timestamp `yaml:"time"`

	// launched
	Creator string `yaml:"creator,omitempty"`
	Curve   string `yaml:"curve,omitempty"`
	Name    string `yaml:"name,omitempty"`
	Symbol  string `yaml:"symbol,omitempty"`

	// progress
	ProgressPct   float64 `yaml:"progress_pct,omitempty"`
	VirtualSol    uint64  `yaml:"virtual_sol,omitempty"`
	VirtualTokens uint64  `yaml:"virtual_tokens,omitempty"`
	InEntryZone   bool    `yaml:"in_entry_zone,omitempty"`

	// trade
	Side        string       `yaml:"side,omitempty"` // buy | sell
	Trader      string       `yaml:"trader,omitempty"`
	SolAmount   types.Lamport `yaml:"sol_amount,omitempty"`
	TokenAmount uint64       `yaml:"token_amount,omitempty"`

	// migration
	FinalProgressPct float64 `yaml:"final_progress_pct,omitempty"`
	Pool             string  `yaml:"pool,omitempty"`
}

// LoadTimelinesYAML parses a YAML fixture file of per-token event
// timelines for offline backtest replay (spec.md's DOMAIN STACK: "optional
// YAML config loading, backtest token-timeline fixture format").
func LoadTimelinesYAML(r io.Reader) ([]TokenTimeline, error) {
	var file fixtureFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode backtest fixture: %w", err)
	}

	timelines := make([]TokenTimeline, 0, len(file.Tokens))
	for _, ft := range file.Tokens {
		token, err := types.ParseTokenId(ft.Token)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", ft.Token, err)
		}
		events := make([]eventsource.Event, 0, len(ft.Events))
		for i, fe := range ft.Events {
			ev, err := fe.toEvent(token)
			if err != nil {
				return nil, fmt.Errorf("token %q event %d: %w", ft.Token, i, err)
			}
			events = append(events, ev)
		}
		timelines = append(timelines, TokenTimeline{Token: token, Events: events})
	}
	return timelines, nil
}

func (fe fixtureEvent) toEvent(token types.TokenId) (eventsource.Event, error) {
	switch fe.Type {
	case "launched":
		return eventsource.Event{Type: eventsource.EventTokenLaunched, Launched: &eventsource.TokenLaunched{
			Mint: token, Creator: fe.Creator, Curve: fe.Curve, Name: fe.Name, Symbol: fe.Symbol, Time: fe.Time,
		}}, nil
	case "progress":
		return eventsource.Event{Type: eventsource.EventBondingProgress, Progress: &eventsource.BondingProgress{
			Mint: token, ProgressPct: fe.ProgressPct, VirtualSol: fe.VirtualSol, VirtualTokens: fe.VirtualTokens,
			InEntryZone: fe.InEntryZone, Time: fe.Time,
		}}, nil
	case "trade":
		side := types.OrderSideBuy
		if fe.Side == "sell" {
			side = types.OrderSideSell
		}
		return eventsource.Event{Type: eventsource.EventTokenTrade, Trade: &eventsource.TokenTrade{
			Mint: token, Side: side, Trader: fe.Trader, SolAmount: fe.SolAmount, TokenAmount: fe.TokenAmount, Time: fe.Time,
		}}, nil
	case "migration":
		return eventsource.Event{Type: eventsource.EventTokenMigration, Migration: &eventsource.TokenMigration{
			Mint: token, Pool: fe.Pool, FinalProgressPct: fe.FinalProgressPct, Time: fe.Time,
		}}, nil
	default:
		return eventsource.Event{}, fmt.Errorf("unknown fixture event type %q", fe.Type)
	}
}
