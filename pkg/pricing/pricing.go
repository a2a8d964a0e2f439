// Package pricing loads and serves the per-model token price table.
//
// The table is a comma-separated text resource with columns
// provider, model, mode, input_per_M, cached_input_per_M, output_per_M.
// It is parsed once at startup into an immutable Table; the Service holder
// swaps tables atomically on reload, so lookups never need a lock on the
// table itself.
package pricing

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// ModeStandard is the default pricing mode when a row or lookup omits one.
const ModeStandard = "standard"

// Rate holds unit prices in USD per one million tokens.
type Rate struct {
	InputPerM       float64
	CachedInputPerM float64
	OutputPerM      float64
}

// Row is one pricing table entry. Keys are case-sensitive.
type Row struct {
	Provider string
	Model    string
	Mode     string
	Rate     Rate
}

// DefaultRow is the designated fallback used when no exact match exists.
// Callers can tell a fallback lookup apart through Result.Fallback and the
// calculator id it produces.
var DefaultRow = Row{
	Provider: "openai",
	Model:    "gpt-4o",
	Mode:     ModeStandard,
	Rate:     Rate{InputPerM: 2.50, CachedInputPerM: 1.25, OutputPerM: 10.00},
}

// Result is a rate lookup outcome.
type Result struct {
	Rate Rate
	// Calculator identifies the row that priced the span, in
	// "<provider>-<model>-<mode>" form.
	Calculator string
	// Fallback is true when the default row was substituted for a miss.
	Fallback bool
}

type key struct {
	provider, model, mode string
}

// Table is an immutable snapshot of the pricing resource.
type Table struct {
	rows map[key]Rate
	// modelProvider reverse-indexes model → provider, first occurrence wins.
	modelProvider map[string]string
}

// Parse reads the tabular pricing resource. The header row must start with
// "provider"; empty lines are ignored. Rows with an empty mode default to
// standard.
func Parse(r io.Reader) (*Table, error) {
	t := &Table{
		rows:          make(map[key]Rate),
		modelProvider: make(map[string]string),
	}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, ",")
		if strings.HasPrefix(fields[0], "provider") {
			continue
		}
		if len(fields) < 6 {
			return nil, fmt.Errorf("pricing line %d: want 6 columns, got %d", line, len(fields))
		}
		provider := strings.TrimSpace(fields[0])
		model := strings.TrimSpace(fields[1])
		mode := strings.TrimSpace(fields[2])
		if mode == "" {
			mode = ModeStandard
		}
		var rate Rate
		var err error
		if rate.InputPerM, err = parsePrice(fields[3]); err != nil {
			return nil, fmt.Errorf("pricing line %d: input price: %w", line, err)
		}
		if rate.CachedInputPerM, err = parsePrice(fields[4]); err != nil {
			return nil, fmt.Errorf("pricing line %d: cached input price: %w", line, err)
		}
		if rate.OutputPerM, err = parsePrice(fields[5]); err != nil {
			return nil, fmt.Errorf("pricing line %d: output price: %w", line, err)
		}
		t.rows[key{provider, model, mode}] = rate
		if _, seen := t.modelProvider[model]; !seen {
			t.modelProvider[model] = provider
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading pricing table: %w", err)
	}
	return t, nil
}

func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Len reports the number of pricing rows loaded.
func (t *Table) Len() int { return len(t.rows) }

// Lookup resolves (provider, model, mode) to a rate. An empty mode defaults
// to standard. On a miss the default row is substituted and the result is
// tagged as a fallback.
func (t *Table) Lookup(provider, model, mode string) Result {
	if mode == "" {
		mode = ModeStandard
	}
	if rate, ok := t.rows[key{provider, model, mode}]; ok {
		return Result{
			Rate:       rate,
			Calculator: provider + "-" + model + "-" + mode,
		}
	}
	return Result{
		Rate:       DefaultRow.Rate,
		Calculator: DefaultRow.Provider + "-" + DefaultRow.Model + "-" + DefaultRow.Mode,
		Fallback:   true,
	}
}

// ProviderForModel resolves a provider from the reverse model index.
func (t *Table) ProviderForModel(model string) (string, bool) {
	p, ok := t.modelProvider[model]
	return p, ok
}

// Service holds the current pricing table and supports atomic replacement.
// Reads after Load never block; the table itself is immutable.
type Service struct {
	path  string
	table atomic.Pointer[Table]
}

// NewService creates a pricing service over the table file at path. The
// table is loaded eagerly; a service is never returned without one.
func NewService(path string) (*Service, error) {
	s := &Service{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewServiceFromTable wraps an already-parsed table, for tests and embedded
// defaults.
func NewServiceFromTable(t *Table) *Service {
	s := &Service{}
	s.table.Store(t)
	return s
}

// Reload re-reads the table file and swaps it in. On failure the previous
// table stays active.
func (s *Service) Reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open pricing table %q: %w", s.path, err)
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return err
	}
	s.table.Store(t)
	return nil
}

// Table returns the current table snapshot.
func (s *Service) Table() *Table { return s.table.Load() }
