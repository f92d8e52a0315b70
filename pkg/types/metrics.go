// Package types provides the per-analyzer metrics records and the momentum
// aggregator's composite output, shared across internal/analyzer/*,
// internal/momentum and internal/backtest.
package types

// AnalyzerMetaMetrics carries the fields common to every per-analyzer
// metrics snapshot (spec.md section 3, "Metrics records").
type AnalyzerMetaMetrics struct {
	CalculatedAt Timestamp `json:"calculatedAt"`
	Confidence   float64   `json:"confidence"` // [0,1], reflects data availability
	IsStale      bool      `json:"isStale"`
	DataAgeMs    int64     `json:"dataAgeMs"`
}

// VolumeMetrics is emitted by internal/analyzer/volume every 30s per token.
type VolumeMetrics struct {
	AnalyzerMetaMetrics
	Volume5m    uint64      `json:"volume5m"`
	Volume15m   uint64      `json:"volume15m"`
	Volume1h    uint64      `json:"volume1h"`
	AvgPer5m    float64     `json:"avgPer5m"`
	Velocity    float64     `json:"velocity"`
	BuyRatio    float64     `json:"buyRatio"`
	HasSpike    bool        `json:"hasSpike"`
	WashScore   float64     `json:"washScore"`
	SizeSkew    float64     `json:"sizeSkew"`
	Trend       VolumeTrend `json:"trend"`
	TradeCount  int         `json:"tradeCount"`
}

// HolderMetrics is emitted by internal/analyzer/holder.
type HolderMetrics struct {
	AnalyzerMetaMetrics
	TotalHolders       int         `json:"totalHolders"`
	Velocity           float64     `json:"velocity"` // new holders per minute
	GrowthRatePct      float64     `json:"growthRatePct"`
	Top10Concentration float64     `json:"top10Concentration"`
	Top20Concentration float64     `json:"top20Concentration"`
	CreatorHoldingsPct float64     `json:"creatorHoldingsPct"`
	ClusterCount       int         `json:"clusterCount"`
	AvgWalletAgeHours  float64     `json:"avgWalletAgeHours"`
	NewWalletPct       float64     `json:"newWalletPct"`
	DistributionScore  float64     `json:"distributionScore"` // [0,10]
	QualityScore       float64     `json:"qualityScore"`      // [0,10]
	Trend              HolderTrend `json:"trend"`
	RedFlags           []string    `json:"redFlags"`
}

// SlippagePoint is the slippage estimate for one reference trade size.
type SlippagePoint struct {
	SizeSOL     float64 `json:"sizeSol"`
	SlippagePct float64 `json:"slippagePct"`
	Executable  bool    `json:"executable"`
}

// LiquidityMetrics is emitted by internal/analyzer/liquidity.
type LiquidityMetrics struct {
	AnalyzerMetaMetrics
	Price                float64         `json:"price"`
	MarketCapLamports    uint64          `json:"marketCapLamports"`
	ProgressPct          float64         `json:"progressPct"`
	IsComplete           bool            `json:"isComplete"`
	InEntryZone          bool            `json:"inEntryZone"`
	Slippage             []SlippagePoint `json:"slippage"`
	DepthScore           float64         `json:"depthScore"` // [0,10]
	DistanceToMigration  float64         `json:"distanceToMigration"`
	VelocityPctPerMinute float64         `json:"velocityPctPerMinute"`
	EstTimeToMigrationMs *int64          `json:"estTimeToMigrationMs,omitempty"`
	Trend                LiquidityTrend  `json:"trend"`
}

// SafetyMetrics is emitted by internal/analyzer/safety.
type SafetyMetrics struct {
	AnalyzerMetaMetrics
	Score            float64  `json:"score"` // 0-100
	IsSafe           bool     `json:"isSafe"`
	MintAuthorityOk  bool     `json:"mintAuthorityOk"`
	FreezeAuthorityOk bool    `json:"freezeAuthorityOk"`
	TokenAgeMs       int64    `json:"tokenAgeMs"`
	HasSocialPresence bool    `json:"hasSocialPresence"`
	InstantRejects   []string `json:"instantRejects"`
	CheckScores      map[string]float64 `json:"checkScores"`
}

// MomentumMetrics is the aggregator's composite per-token output (spec.md
// section 3, "MomentumMetrics") and section 4.6.
type MomentumMetrics struct {
	Token        TokenId   `json:"token"`
	CalculatedAt Timestamp `json:"calculatedAt"`

	// Full per-analyzer metrics this tick was computed from.
	Volume    *VolumeMetrics    `json:"volume,omitempty"`
	Holder    *HolderMetrics    `json:"holder,omitempty"`
	Liquidity *LiquidityMetrics `json:"liquidity,omitempty"`
	Safety    *SafetyMetrics    `json:"safety,omitempty"`

	// Per-channel 0-100 subscores feeding the weighted composite.
	VolumeScore    float64 `json:"volumeScore"`
	HolderScore    float64 `json:"holderScore"`
	LiquidityScore float64 `json:"liquidityScore"`
	SafetyScore    float64 `json:"safetyScore"`

	Score            float64    `json:"score"` // 0-100
	Signal           SignalType `json:"signal"`
	InEntryZone      bool       `json:"inEntryZone"`
	ShouldEnter      bool       `json:"shouldEnter"`
	ShouldExit       bool       `json:"shouldExit"`
	Reasons          []string   `json:"reasons"`
	TimeDecayApplied bool       `json:"timeDecayApplied"`
	DataCompleteness float64    `json:"dataCompleteness"` // [0,1]
}

// RankEntry is one row of the rankings leaderboard (spec.md section 4.7).
type RankEntry struct {
	Token     TokenId `json:"token"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
	PrevRank  int     `json:"prevRank"`
	Signal    SignalType `json:"signal"`
}

// RankEvent is an entry/exit event emitted when top-10 membership changes.
type RankEvent struct {
	Token     TokenId `json:"token"`
	Entered   bool    `json:"entered"` // true = entered top 10, false = exited
	Rank      int     `json:"rank"`
	Score     float64 `json:"score"`
	Timestamp Timestamp `json:"timestamp"`
}
