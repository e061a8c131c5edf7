package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/catalogqa/internal/advisor"
	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
	"github.com/MikeSquared-Agency/catalogqa/internal/cache"
	"github.com/MikeSquared-Agency/catalogqa/internal/catalog"
	"github.com/MikeSquared-Agency/catalogqa/internal/compiler"
	"github.com/MikeSquared-Agency/catalogqa/internal/extractor"
	"github.com/MikeSquared-Agency/catalogqa/internal/hermes"
	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
	"github.com/MikeSquared-Agency/catalogqa/internal/metrics"
	"github.com/MikeSquared-Agency/catalogqa/internal/session"
)

// relaxThreshold is the share of the window below which a price query is
// retried once with wider bounds.
const relaxThreshold = 0.3

// Gateway turns a prompt into raw model text.
type Gateway interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Provider() string
}

// Catalog compiles and runs intents against the goods table.
type Catalog interface {
	catalog.Executor
	Compiler() *compiler.Compiler
}

// Publisher is told about every answered question.
type Publisher interface {
	PublishAnswered(hermes.AnsweredEvent) error
}

// Answer is what a shopper gets back for one question.
type Answer struct {
	Answer      string           `json:"answer"`
	Goods       []catalog.Record `json:"goods"`
	Stats       []catalog.Record `json:"stats,omitempty"`
	SessionID   string           `json:"sessionId"`
	QueryTime   int64            `json:"queryTime"`
	FromCache   bool             `json:"fromCache"`
	QueryIntent *intent.Intent   `json:"queryIntent,omitempty"`
	Quantity    int              `json:"quantity"`
	QuantityTip string           `json:"quantityExplanation,omitempty"`
	Relaxed     bool             `json:"relaxed,omitempty"`
}

// Processor runs the question pipeline: session, model, intent, catalog,
// answer text.
type Processor struct {
	sessions  *session.Store
	gateway   Gateway
	extractor *extractor.Extractor
	advisor   *advisor.Advisor
	catalog   Catalog
	cache     cache.Cache
	publisher Publisher
	logger    *slog.Logger
}

type Option func(*Processor)

// WithCache serves repeated questions from c.
func WithCache(c cache.Cache) Option {
	return func(p *Processor) { p.cache = c }
}

// WithPublisher announces answered questions through pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

func New(sessions *session.Store, gw Gateway, ext *extractor.Extractor, adv *advisor.Advisor, cat Catalog, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		sessions:  sessions,
		gateway:   gw,
		extractor: ext,
		advisor:   adv,
		catalog:   cat,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provider names the model backend in use.
func (p *Processor) Provider() string { return p.gateway.Provider() }

// Ask answers one question. Every error it returns is an *apperr.Error.
func (p *Processor) Ask(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()

	if err := checkRequest(&req); err != nil {
		return nil, p.fail(req, "", err)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if _, created := p.sessions.GetOrCreate(req.SessionID, req.UserID); created {
		p.logger.Info("session created", "session_id", req.SessionID)
	}

	// Preferences learned from earlier turns only; the current question is
	// folded in after it has been answered from them.
	var prefs session.Preferences
	if snap, ok := p.sessions.Snapshot(req.SessionID); ok {
		prefs = snap.Preferences
	}
	defer func() {
		if _, ok := p.sessions.Observe(req.SessionID, req.Question); !ok {
			p.conversationError(apperr.Conversation(req.SessionID, "observe", "session unavailable"))
		}
	}()

	// Same question in the same conversation state gets the same answer.
	key := p.cacheKey(req, prefs)
	if ans, ok := p.lookup(ctx, key); ok {
		ans.SessionID = req.SessionID
		ans.FromCache = true
		p.finish(ctx, req, ans, "", start)
		return ans, nil
	}

	prompt := buildPrompt(p.sessions.BuildContext(req.SessionID), req.Question)
	in, err := p.interpret(ctx, prompt)
	if err != nil {
		return nil, p.fail(req, "", err)
	}

	if !in.IsQuery() {
		ans := &Answer{
			Answer:      prose(in),
			Goods:       []catalog.Record{},
			SessionID:   req.SessionID,
			QueryIntent: &in,
		}
		p.finish(ctx, req, ans, key, start)
		return ans, nil
	}

	in, personalized := enrich(in, prefs)

	sugg := p.advisor.Suggest(ctx, in.Type, req.Question, prefs.Summary())
	window := sugg.Final
	if in.Limit > 0 && in.Limit < window {
		window = in.Limit
	}
	in.Limit = window

	q, rows, err := p.query(ctx, in)
	if err != nil {
		return nil, p.fail(req, in.Type, err)
	}

	ans := &Answer{
		Goods:       []catalog.Record{},
		SessionID:   req.SessionID,
		QueryIntent: &in,
		Quantity:    window,
		QuantityTip: sugg.Explanation,
	}
	if q.Statistic != "" {
		ans.Stats = rows
		ans.Answer = renderStatistic(q.Statistic, rows)
	} else {
		if needsRelax(in, len(rows)) {
			rows, ans.Relaxed = p.relax(ctx, in, rows)
		}
		ans.Goods = rows
		ans.Answer = renderList(in, rows, personalized)
	}

	p.finish(ctx, req, ans, key, start)
	return ans, nil
}

// interpret asks the model for an intent and validates what comes back.
func (p *Processor) interpret(ctx context.Context, prompt string) (intent.Intent, error) {
	t := time.Now()
	raw, err := p.gateway.Complete(ctx, prompt)
	metrics.StageLatency.WithLabelValues("model").Observe(time.Since(t).Seconds())
	if err != nil {
		return intent.Intent{}, err
	}

	payload, err := p.extractor.Extract(raw)
	if err != nil {
		return intent.Intent{}, err
	}
	in, err := intent.Parse(payload)
	if err != nil {
		p.logger.Warn("model intent rejected", "field", apperr.From(err).Field, "error", err)
		return intent.Intent{}, err
	}
	return in, nil
}

func (p *Processor) query(ctx context.Context, in intent.Intent) (compiler.Query, []catalog.Record, error) {
	q, err := p.catalog.Compiler().Compile(in)
	if err != nil {
		return compiler.Query{}, nil, err
	}

	t := time.Now()
	rows, err := p.catalog.Run(ctx, q)
	metrics.StageLatency.WithLabelValues("catalog").Observe(time.Since(t).Seconds())
	if err != nil {
		return q, nil, apperr.Internal("catalog query failed", err)
	}
	metrics.CatalogRows.Observe(float64(len(rows)))
	return q, rows, nil
}

func needsRelax(in intent.Intent, got int) bool {
	if !in.Conditions.Has("min_price") && !in.Conditions.Has("max_price") {
		return false
	}
	return float64(got) < relaxThreshold*float64(in.Limit)
}

// relax re-runs a price query with wider bounds and appends the goods the
// first run missed. A failed re-run keeps the original rows.
func (p *Processor) relax(ctx context.Context, in intent.Intent, rows []catalog.Record) ([]catalog.Record, bool) {
	metrics.Relaxations.Inc()
	_, more, err := p.query(ctx, intent.Relax(in))
	if err != nil {
		p.logger.Warn("relaxed re-query failed", "error", err)
		return rows, false
	}
	merged := mergeByID(rows, more, in.Limit)
	p.logger.Debug("relaxed re-query", "before", len(rows), "after", len(merged))
	return merged, len(merged) > len(rows)
}

func mergeByID(first, second []catalog.Record, limit int) []catalog.Record {
	out := slices.Clone(first)
	seen := make(map[int64]bool, len(first)+len(second))
	for _, r := range first {
		seen[r.Int("id")] = true
	}
	for _, r := range second {
		if limit > 0 && len(out) >= limit {
			break
		}
		id := r.Int("id")
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out
}

// enrich fills in price, category and brand from session preferences when
// the intent leaves them open. Statistics and single-product lookups are
// never narrowed.
func enrich(in intent.Intent, prefs session.Preferences) (intent.Intent, bool) {
	if in.Type == intent.Statistical || in.Type == intent.SpecificProduct {
		return in, false
	}

	out := in.Clone()
	cs := out.Conditions
	changed := false
	if !cs.Has("min_price") && !cs.Has("max_price") {
		switch prefs.PriceTier {
		case session.PriceLow:
			cs = cs.Set("max_price", intent.Number(500))
			changed = true
		case session.PriceHigh:
			cs = cs.Set("min_price", intent.Number(1000))
			changed = true
		}
	}
	if len(prefs.Categories) > 0 && !cs.Has("category") && !cs.Has("category_id") && !cs.Has("keyword") {
		cs = cs.Set("category", intent.Text(prefs.Categories[0]))
		changed = true
	}
	if len(prefs.Brands) > 0 && !cs.Has("brand") && !cs.Has("brand_id") {
		cs = cs.Set("brand", intent.Text(prefs.Brands[0]))
		changed = true
	}
	if !changed {
		return in, false
	}

	out.Conditions = cs
	if err := intent.Validate(out); err != nil {
		return in, false
	}
	return out, true
}

func prose(in intent.Intent) string {
	if text := intent.PlainText(in.Explanation); text != "" {
		return text
	}
	return notUnderstood
}

// finish records the turn, caches and announces the answer.
func (p *Processor) finish(ctx context.Context, req Request, ans *Answer, key string, start time.Time) {
	ans.QueryTime = time.Since(start).Milliseconds()

	if !p.sessions.AddTurn(req.SessionID, req.Question, ans.Answer, ans.QueryIntent) {
		p.conversationError(apperr.Conversation(req.SessionID, "add_turn", "session unknown, expired or full"))
		// A full session still keeps its rolling message log.
		if p.sessions.AddMessage(req.SessionID, session.RoleUser, req.Question) {
			p.sessions.AddMessage(req.SessionID, session.RoleAssistant, ans.Answer)
		}
	}
	if ans.Quantity > 0 {
		p.sessions.UpdateContext(req.SessionID, map[string]any{
			"quantity":            ans.Quantity,
			"quantityExplanation": ans.QuantityTip,
			"relaxed":             ans.Relaxed,
		})
	}
	if key != "" {
		p.store(ctx, key, ans)
	}

	qt := queryTypeLabel(ans.QueryIntent)
	outcome := "answered"
	switch {
	case ans.FromCache:
		outcome = "cached"
	case len(ans.Goods) == 0 && len(ans.Stats) == 0:
		outcome = "empty"
	}
	metrics.Questions.WithLabelValues(qt, outcome).Inc()
	p.publish(req, ans)

	p.logger.Info("question answered",
		"session_id", req.SessionID,
		"query_type", qt,
		"goods", len(ans.Goods),
		"from_cache", ans.FromCache,
		"relaxed", ans.Relaxed,
		"duration_ms", ans.QueryTime,
	)
}

func (p *Processor) fail(req Request, qt intent.QueryType, err error) error {
	e := apperr.From(err)
	metrics.PipelineErrors.WithLabelValues(string(e.Kind)).Inc()
	if qt == "" {
		qt = intent.Unknown
	}
	metrics.Questions.WithLabelValues(string(qt), "error").Inc()
	p.logger.Warn("question failed",
		"session_id", req.SessionID,
		"kind", string(e.Kind),
		"error", err,
	)
	return e
}

// conversationError logs session bookkeeping failures; they never fail a
// request.
func (p *Processor) conversationError(err *apperr.Error) {
	metrics.PipelineErrors.WithLabelValues(string(err.Kind)).Inc()
	p.logger.Warn("session update skipped",
		"session_id", err.SessionID,
		"operation", err.Operation,
		"error", err,
	)
}

func (p *Processor) cacheKey(req Request, prefs session.Preferences) string {
	if p.cache == nil {
		return ""
	}
	var last session.LastContext
	if snap, ok := p.sessions.Snapshot(req.SessionID); ok {
		last = snap.LastContext
	}
	state, err := json.Marshal(last)
	if err != nil {
		return ""
	}
	return cache.Key(req.Question, string(state)+"|"+prefs.Summary())
}

func (p *Processor) lookup(ctx context.Context, key string) (*Answer, bool) {
	if p.cache == nil || key == "" {
		return nil, false
	}
	data, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		p.logger.Warn("answer cache lookup failed", "error", err)
		return nil, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	var ans Answer
	if err := json.Unmarshal(data, &ans); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		p.logger.Warn("dropping undecodable cached answer", "error", err)
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &ans, true
}

func (p *Processor) store(ctx context.Context, key string, ans *Answer) {
	data, err := json.Marshal(ans)
	if err != nil {
		p.logger.Error("failed to encode answer for cache", "error", err)
		return
	}
	if err := p.cache.Set(ctx, key, data); err != nil {
		p.logger.Warn("answer cache store failed", "error", err)
	}
}

func (p *Processor) publish(req Request, ans *Answer) {
	if p.publisher == nil {
		return
	}
	ev := hermes.AnsweredEvent{
		EventID:     uuid.NewString(),
		SessionID:   req.SessionID,
		Question:    req.Question,
		QueryType:   queryTypeLabel(ans.QueryIntent),
		ResultCount: len(ans.Goods),
		Quantity:    ans.Quantity,
		FromCache:   ans.FromCache,
		Relaxed:     ans.Relaxed,
		Provider:    p.gateway.Provider(),
		DurationMS:  ans.QueryTime,
		At:          time.Now().UTC(),
	}
	if err := p.publisher.PublishAnswered(ev); err != nil {
		p.logger.Error("failed to publish answered event", "error", err)
	}
}

// PurgeCache drops every cached answer.
func (p *Processor) PurgeCache(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Purge(ctx)
}

// HandleCatalogChanged reacts to catalogqa.catalog.changed: answers cached
// before the change may list stale goods or prices.
func (p *Processor) HandleCatalogChanged(ev hermes.CatalogChanged) {
	if err := p.PurgeCache(context.Background()); err != nil {
		p.logger.Error("failed to purge answer cache", "error", err)
		return
	}
	p.logger.Info("answer cache purged after catalog change",
		"reason", ev.Reason,
		"goods", len(ev.GoodsIDs),
	)
}

func queryTypeLabel(in *intent.Intent) string {
	if in == nil || in.Type == "" {
		return string(intent.Unknown)
	}
	return string(in.Type)
}
