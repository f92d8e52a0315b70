// Package dashboard exposes the bot's live state as a terminal status view
// and an HTTP/WebSocket surface, grounded on the teacher's internal/api
// Server/Client/websocket hub (gorilla/mux routing, rs/cors, a broadcast
// hub fed by a background push loop) adapted from backtest-job tracking to
// the orchestrator's live rankings/positions/risk state (spec.md section 6,
// "Terminal dashboard (exposed)").
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/orchestrator"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Source is the read-only view of orchestrator state the dashboard needs.
// Narrow interface so the dashboard never reaches into the pipeline's
// internals, matching the executor's EventSink boundary pattern.
type Source interface {
	State() orchestrator.State
	Health() map[string]orchestrator.ServiceHealth
	OpenPositions() []*types.Position
	Rankings() []types.RankEntry
	RiskSnapshot() types.DailyPnL
}

// Config tunes the dashboard's HTTP surface and terminal refresh cadence.
type Config struct {
	Host           string
	Port           int
	WebSocketPath  string
	RefreshPeriod  time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns spec-documented defaults: a 5s terminal refresh
// and a websocket push on the same cadence (spec.md section 6).
func DefaultConfig() Config {
	return Config{
		Host: "0.0.0.0", Port: 8090, WebSocketPath: "/ws",
		RefreshPeriod: 5 * time.Second,
		ReadTimeout:   10 * time.Second, WriteTimeout: 10 * time.Second,
	}
}

// Metrics are the process-wide Prometheus gauges/counters the dashboard
// publishes on /metrics (spec.md's "Metrics" ambient concern).
type Metrics struct {
	EventsProcessed prometheus.Counter
	OrdersFilled    prometheus.Counter
	OrdersFailed    prometheus.Counter
	KillSwitchTrips prometheus.Counter
	AnalyzerErrors  prometheus.Counter
	OpenPositions   prometheus.Gauge
	CapitalLamports prometheus.Gauge
}

// NewMetrics registers a fresh set of counters/gauges against a private
// registry so tests can construct more than one Dashboard without a
// duplicate-registration panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_events_processed_total", Help: "Event-source events consumed."}),
		OrdersFilled:    prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_orders_filled_total", Help: "Orders that reached a confirmed fill."}),
		OrdersFailed:    prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_orders_failed_total", Help: "Orders that exhausted retries."}),
		KillSwitchTrips: prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_kill_switch_trips_total", Help: "Kill-switch activations."}),
		AnalyzerErrors:  prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_analyzer_errors_total", Help: "Analyzer compute errors, swallowed at the call site."}),
		OpenPositions:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_open_positions", Help: "Currently open positions."}),
		CapitalLamports: prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_capital_lamports", Help: "Current capital, in lamports."}),
	}
	reg.MustRegister(m.EventsProcessed, m.OrdersFilled, m.OrdersFailed, m.KillSwitchTrips, m.AnalyzerErrors, m.OpenPositions, m.CapitalLamports)
	return m
}

// client is one connected WebSocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Dashboard serves the HTTP/WS status surface and drives the terminal
// status view, both reading from the same Source snapshot on a fixed
// cadence.
type Dashboard struct {
	cfg     Config
	src     Source
	log     *zap.Logger
	metrics *Metrics
	reg     *prometheus.Registry

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// New builds a dashboard over the given orchestrator Source.
func New(cfg Config, src Source, log *zap.Logger) *Dashboard {
	reg := prometheus.NewRegistry()
	d := &Dashboard{
		cfg: cfg, src: src, log: log.Named("dashboard"),
		reg: reg, metrics: NewMetrics(reg),
		router:  mux.NewRouter(),
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize: 1024, WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	d.setupRoutes()
	return d
}

// Metrics exposes the registered counters/gauges so the orchestrator (or
// executor EventSink adapter) can increment them on lifecycle events.
func (d *Dashboard) Metrics() *Metrics { return d.metrics }

// Router exposes the HTTP mux directly, for tests that want to drive the
// handlers through httptest.NewServer without binding a real port.
func (d *Dashboard) Router() *mux.Router { return d.router }

func (d *Dashboard) setupRoutes() {
	d.router.HandleFunc("/api/v1/status", d.handleStatus).Methods(http.MethodGet)
	d.router.HandleFunc("/api/v1/positions", d.handlePositions).Methods(http.MethodGet)
	d.router.HandleFunc("/api/v1/rankings", d.handleRankings).Methods(http.MethodGet)
	d.router.HandleFunc("/api/v1/risk", d.handleRisk).Methods(http.MethodGet)
	d.router.Handle("/metrics", promhttp.HandlerFor(d.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	d.router.HandleFunc(d.cfg.WebSocketPath, d.handleWebSocket)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (d *Dashboard) Start(ctx context.Context) error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(d.router)

	d.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port),
		Handler:      handler,
		ReadTimeout:  d.cfg.ReadTimeout,
		WriteTimeout: d.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("dashboard listening", zap.String("addr", d.httpServer.Addr))
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go d.pushLoop(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// snapshot is the payload shape pushed over HTTP and WebSocket alike.
type snapshot struct {
	State     orchestrator.State           `json:"state"`
	Health    map[string]orchestrator.ServiceHealth `json:"health"`
	Positions []*types.Position            `json:"positions"`
	Rankings  []types.RankEntry            `json:"rankings"`
	Risk      types.DailyPnL               `json:"risk"`
	Timestamp int64                        `json:"timestamp"`
}

func (d *Dashboard) snapshot() snapshot {
	return snapshot{
		State: d.src.State(), Health: d.src.Health(),
		Positions: d.src.OpenPositions(), Rankings: d.src.Rankings(),
		Risk: d.src.RiskSnapshot(), Timestamp: time.Now().UnixMilli(),
	}
}

func (d *Dashboard) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.snapshot())
}

func (d *Dashboard) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.src.OpenPositions())
}

func (d *Dashboard) handleRankings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.src.Rankings())
}

func (d *Dashboard) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.src.RiskSnapshot())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{id: fmt.Sprintf("%p", conn), conn: conn, send: make(chan []byte, 32)}

	d.mu.Lock()
	d.clients[c.id] = c
	d.mu.Unlock()

	go d.writePump(c)
	go d.readPump(c)
}

func (d *Dashboard) readPump(c *client) {
	defer func() {
		d.mu.Lock()
		delete(d.clients, c.id)
		d.mu.Unlock()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (d *Dashboard) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// pushLoop broadcasts a fresh snapshot to every connected client on the
// configured refresh cadence, until ctx is cancelled.
func (d *Dashboard) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.broadcast(d.snapshot())
		}
	}
}

func (d *Dashboard) broadcast(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}

// RenderTerminal writes a single ANSI-colored status frame to w, the same
// shape as the WebSocket snapshot rendered as a line-oriented box for a
// terminal (spec.md section 6's "terminal dashboard"). Intended to be
// called on the same RefreshPeriod cadence as pushLoop, from the CLI's own
// loop so it can clear the screen between frames.
func (d *Dashboard) RenderTerminal(w *os.File) {
	s := d.snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "\033[2J\033[H") // clear screen, home cursor
	fmt.Fprintf(&b, "momentum bot  state=%s  %s\n", s.State, time.UnixMilli(s.Timestamp).Format(time.Kitchen))
	fmt.Fprintf(&b, "capital: realized=%d unrealized=%d  trades=%d wins=%d losses=%d  kill_switch=%v\n",
		s.Risk.Realized, s.Risk.Unrealized, s.Risk.TradeCount, s.Risk.Wins, s.Risk.Losses, s.Risk.KillSwitchTriggered)
	fmt.Fprintf(&b, "positions: %d open\n", len(s.Positions))
	for _, p := range s.Positions {
		fmt.Fprintf(&b, "  %s  entry=%.6f current=%.6f pnl=%d\n", p.Token.String()[:10], p.EntryPrice, p.CurrentPrice, p.UnrealizedPnL)
	}
	fmt.Fprintf(&b, "rankings (top %d):\n", len(s.Rankings))
	for _, rk := range s.Rankings {
		fmt.Fprintf(&b, "  #%-2d %-10s score=%.1f signal=%s\n", rk.Rank, rk.Token.String()[:10], rk.Score, rk.Signal)
	}
	fmt.Fprint(w, b.String())
}
