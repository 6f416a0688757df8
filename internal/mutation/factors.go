package mutation

import (
	"fmt"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
)

// FactorTemplate is a named alpha-factor expression over the OHLCV series.
type FactorTemplate struct {
	Name string `yaml:"name" json:"name"`
	Expr string `yaml:"expr" json:"expr"`
}

// defaultFactorLibrary covers the common momentum, reversion, volatility and
// volume families. Deployments override it through Tier2Config.
var defaultFactorLibrary = []FactorTemplate{
	{Name: "momentum", Expr: "close.pct_change(10)"},
	{Name: "mean_reversion", Expr: "(close - close.rolling(20).mean()) / close.rolling(20).std()"},
	{Name: "volatility", Expr: "close.pct_change(1).rolling_std(20)"},
	{Name: "volume_ratio", Expr: "volume / volume.rolling(20).mean()"},
	{Name: "price_range", Expr: "(high - low) / close"},
	{Name: "trend_strength", Expr: "close.rolling(10).mean() / close.rolling(30).mean() - 1"},
	{Name: "overnight_gap", Expr: "open / close.shift(1) - 1"},
	{Name: "intraday_return", Expr: "close / open - 1"},
	{Name: "range_position", Expr: "(close - low.rolling(14).min()) / (high.rolling(14).max() - low.rolling(14).min())"},
	{Name: "volume_trend", Expr: "volume.pct_change(5).rolling_mean(10)"},
}

// factorLibrary holds pre-parsed templates so Tier2 never pays a parse or a
// parse failure at mutation time.
type factorLibrary struct {
	templates []FactorTemplate
	exprs     []dsl.Expr
}

// newFactorLibrary parses every template eagerly and rejects broken ones.
func newFactorLibrary(templates []FactorTemplate) (*factorLibrary, error) {
	if len(templates) == 0 {
		templates = defaultFactorLibrary
	}
	lib := &factorLibrary{
		templates: make([]FactorTemplate, 0, len(templates)),
		exprs:     make([]dsl.Expr, 0, len(templates)),
	}
	seen := make(map[string]bool, len(templates))
	for _, t := range templates {
		if t.Name == "" {
			return nil, fmt.Errorf("factor template with empty name")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate factor template %q", t.Name)
		}
		seen[t.Name] = true
		expr, err := parseFactorExpr(t.Expr)
		if err != nil {
			return nil, fmt.Errorf("factor template %q: %w", t.Name, err)
		}
		lib.templates = append(lib.templates, t)
		lib.exprs = append(lib.exprs, expr)
	}
	return lib, nil
}

func (l *factorLibrary) len() int { return len(l.templates) }

// pick returns the template name and a fresh copy of its expression tree.
func (l *factorLibrary) pick(r *rng) (string, dsl.Expr) {
	i := r.Intn(len(l.templates))
	// Reparse instead of sharing: callers rewrite literal nodes in place.
	expr, _ := parseFactorExpr(l.templates[i].Expr)
	return l.templates[i].Name, expr
}

// parseFactorExpr parses a single-expression template.
func parseFactorExpr(src string) (dsl.Expr, error) {
	mod, err := dsl.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression: %w", err)
	}
	if len(mod.Body) != 1 {
		return nil, fmt.Errorf("expected a single expression, got %d statements", len(mod.Body))
	}
	stmt, ok := mod.Body[0].(*dsl.ExprStmt)
	if !ok {
		return nil, fmt.Errorf("expected a bare expression, got %T", mod.Body[0])
	}
	return stmt.Value, nil
}
