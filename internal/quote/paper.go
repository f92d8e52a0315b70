package quote

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/chain"
	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

// PriceLookup resolves a token's current price in lamports per base unit,
// supplied by the liquidity analyzer so paper quotes track live bonding
// curve state instead of a fixed price.
type PriceLookup func(token types.TokenId) (pricePerUnit float64, ok bool)

// Paper simulates the quote/submit capability without talking to any
// external service: quotes are derived from PriceLookup and orders are
// marked Confirmed immediately (spec.md section 4.10, "Paper-trading mode
// simulates the quote and marks the order Confirmed without any external
// submission").
type Paper struct {
	price clock.Clock
	lookup PriceLookup
	seq    int64
}

// NewPaper creates a paper-trading provider.
func NewPaper(clk clock.Clock, lookup PriceLookup) *Paper {
	return &Paper{price: clk, lookup: lookup}
}

// GetQuote synthesizes a quote from the current simulated price.
func (p *Paper) GetQuote(ctx context.Context, in, out types.TokenId, amount uint64, slippageBps int) (Quote, error) {
	var outAmount uint64
	if price, ok := p.lookup(out); ok && price > 0 {
		outAmount = uint64(float64(amount) / price) // lamports in, token base units out
	} else if price, ok := p.lookup(in); ok && price > 0 {
		outAmount = uint64(float64(amount) * price) // token base units in, lamports out
	} else {
		return Quote{}, fmt.Errorf("quote: no price available for %s/%s", in, out)
	}
	minOut := uint64(float64(outAmount) * (1 - float64(slippageBps)/10000))

	return Quote{
		In:             in,
		Out:            out,
		InAmount:       amount,
		OutAmount:      outAmount,
		MinOut:         minOut,
		PriceImpactPct: 0,
		Route:          "paper",
		ExpiresAt:      p.price.Now().Add(10 * time.Second),
	}, nil
}

// BuildSwapTx returns an opaque placeholder transaction; nothing is ever
// broadcast in paper mode.
func (p *Paper) BuildSwapTx(ctx context.Context, q Quote, wallet chain.PublicKey, priorityFee types.Lamport) (chain.WireTransaction, error) {
	return chain.WireTransaction(fmt.Sprintf("paper:%s:%d", q.Route, q.OutAmount)), nil
}

// SubmitBundle returns a synthetic bundle id and never touches the network.
func (p *Paper) SubmitBundle(ctx context.Context, txs []chain.WireTransaction) (string, error) {
	id := atomic.AddInt64(&p.seq, 1)
	return fmt.Sprintf("paper-bundle-%s-%d", utils.GenerateID("pb"), id), nil
}

// BundleStatus always reports Landed immediately; paper fills never fail.
func (p *Paper) BundleStatus(ctx context.Context, bundleID string) (Status, error) {
	return Status{State: BundleLanded}, nil
}
