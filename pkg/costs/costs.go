// Package costs attributes a USD cost to individual spans from their
// token-usage attributes and the pricing table.
package costs

import (
	"strings"

	"github.com/winterwell/aiqa/pkg/pricing"
	"github.com/winterwell/aiqa/pkg/span"
)

// Well-known span attribute keys read and written by the attributor.
const (
	AttrInputTokens       = "inputTokens"
	AttrOutputTokens      = "outputTokens"
	AttrCachedInputTokens = "cachedInputTokens"
	AttrTotalTokens       = "totalTokens"
	AttrProvider          = "provider"
	AttrModel             = "model"
	AttrMode              = "mode"
	AttrCostUSD           = "cost.usd"
	AttrCostCalculator    = "cost.calculator"
)

// Usage is the token breakdown read off a span. A nil field means the
// attribute was absent or non-numeric.
type Usage struct {
	Input       *int64
	Output      *int64
	CachedInput *int64
	Total       *int64
}

// ReadUsage extracts the token-usage attributes from a span. Values may be
// numeric or numeric strings; anything else counts as missing.
func ReadUsage(s *span.Span) Usage {
	return Usage{
		Input:       tokenAttr(s, AttrInputTokens),
		Output:      tokenAttr(s, AttrOutputTokens),
		CachedInput: tokenAttr(s, AttrCachedInputTokens),
		Total:       tokenAttr(s, AttrTotalTokens),
	}
}

func tokenAttr(s *span.Span, key string) *int64 {
	v, ok := s.Attr(key)
	if !ok {
		return nil
	}
	f, ok := v.AsFloat()
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}

// Resolve fills in missing sides of the usage triple. With only a total, it
// splits 50/50 (floor to input, remainder to output). With a total and one
// side, the other side is max(0, total - present). With both sides present
// they are used verbatim and any total is ignored for derivation.
func (u Usage) Resolve() Usage {
	out := u
	switch {
	case u.Input != nil && u.Output != nil:
		// verbatim
	case u.Total != nil && u.Input != nil:
		d := *u.Total - *u.Input
		if d < 0 {
			d = 0
		}
		out.Output = &d
	case u.Total != nil && u.Output != nil:
		d := *u.Total - *u.Output
		if d < 0 {
			d = 0
		}
		out.Input = &d
	case u.Total != nil:
		in := *u.Total / 2
		outTok := *u.Total - in
		out.Input = &in
		out.Output = &outTok
	}
	return out
}

// empty reports whether none of input, output, or total were observed.
func (u Usage) empty() bool {
	return u.Input == nil && u.Output == nil && u.Total == nil
}

// Attributor computes and writes span costs. It is safe for concurrent use:
// all its state is the read-only pricing service.
type Attributor struct {
	pricing *pricing.Service
}

// NewAttributor creates an attributor over the given pricing service.
func NewAttributor(p *pricing.Service) *Attributor {
	return &Attributor{pricing: p}
}

// Attribute computes the span's cost and writes the cost.usd and
// cost.calculator attributes. Spans with no token usage at all are left
// untouched. Attribution is idempotent: re-running it recomputes the same
// attributes from the same inputs.
func (a *Attributor) Attribute(s *span.Span) {
	usage := ReadUsage(s).Resolve()
	if usage.empty() {
		return
	}

	table := a.pricing.Table()
	provider, model, mode := a.resolveModel(s, table)
	res := table.Lookup(provider, model, mode)

	cost := costUSD(usage, res.Rate)
	s.SetAttr(AttrCostUSD, span.DoubleValue(cost))
	s.SetAttr(AttrCostCalculator, span.StringValue(res.Calculator))
}

// resolveModel reads provider and model off the span, inferring the
// provider from the model name when absent: first by substring rules, then
// through the pricing table's reverse model index.
func (a *Attributor) resolveModel(s *span.Span, table *pricing.Table) (provider, model, mode string) {
	if v, ok := s.Attr(AttrModel); ok {
		model = v.AsString()
	}
	if v, ok := s.Attr(AttrProvider); ok {
		provider = v.AsString()
	}
	if v, ok := s.Attr(AttrMode); ok {
		mode = v.AsString()
	}
	if mode == "" {
		mode = pricing.ModeStandard
	}
	if provider == "" {
		provider = inferProvider(model)
	}
	if provider == "" {
		if p, ok := table.ProviderForModel(model); ok {
			provider = p
		}
	}
	return provider, model, mode
}

// inferProvider guesses the provider from the model name. Order matters:
// bedrock model ids embed other providers' names ("anthropic.claude"), so
// the hosted-platform rules run before the vendor rules.
func inferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case m == "":
		return ""
	case strings.Contains(m, "azure"):
		return "azure"
	case strings.Contains(m, "bedrock"), strings.Contains(m, "amazon"),
		strings.Contains(m, "anthropic.claude"):
		return "bedrock"
	case strings.Contains(m, "gpt"), strings.Contains(m, "o1"),
		strings.Contains(m, "o3"), strings.Contains(m, "o4"):
		return "openai"
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gemini"):
		return "google"
	}
	return ""
}

// costUSD applies the per-million unit prices. A zero cached rate falls back
// to the input rate when the input rate is non-zero: providers that do not
// publish a cached price bill cached tokens at the input price.
func costUSD(u Usage, rate pricing.Rate) float64 {
	cachedRate := rate.CachedInputPerM
	if cachedRate == 0 && rate.InputPerM != 0 {
		cachedRate = rate.InputPerM
	}
	var cost float64
	if u.Input != nil {
		cost += float64(*u.Input) / 1e6 * rate.InputPerM
	}
	if u.Output != nil {
		cost += float64(*u.Output) / 1e6 * rate.OutputPerM
	}
	if u.CachedInput != nil {
		cost += float64(*u.CachedInput) / 1e6 * cachedRate
	}
	return cost
}
