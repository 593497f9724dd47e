// Package fetcher ingests candidate proxies from named external sources
// (C7): plain-text lists, CSV, JSON, or HTML tables scraped with a CSS
// selector. Integration with the pool (validate-then-add) is the caller's
// policy — the fetcher only produces deduplicated candidates.
package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

// Format is the response body shape a Source returns.
type Format string

const (
	FormatPlainText Format = "plain_text"
	FormatCSV       Format = "csv"
	FormatJSON      Format = "json"
	FormatHTMLTable Format = "html_table"
)

// Source describes one named external proxy-list provider.
type Source struct {
	Name string

	// URL is the request template. No templating is performed by the
	// fetcher itself today — callers that need per-fetch substitution
	// (API keys, pagination) format URL before registering the source.
	URL string

	Format Format

	// Headers are sent with every request to this source (auth tokens,
	// User-Agent overrides).
	Headers map[string]string

	// Selector is the CSS selector for the row/cell layout of an
	// html_table source. Ignored for every other format.
	Selector string

	// DefaultScheme is applied to candidates this source doesn't specify
	// a scheme for (most plain-text lists are host:port only).
	DefaultScheme pool.Scheme

	// Timeout bounds a single request to this source.
	Timeout time.Duration

	// Enabled toggles whether fetch_all queries this source at all.
	Enabled bool
}

// Candidate is a proxy address discovered by a Source, not yet validated or
// added to any pool.
type Candidate struct {
	Host      string
	Port      int
	Scheme    pool.Scheme
	SourceTag string
}

func (c Candidate) key() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SourceOutcome records the last fetch_all result for one source, kept for
// observability (spec §4.5: "each source's latest outcome is recorded").
type SourceOutcome struct {
	SourceName   string
	Attempted    int
	At           time.Time
	Err          error
	CandidateLen int
}

// Config tunes fetch_all's retry behaviour.
type Config struct {
	PerSourceTimeout time.Duration
	MaxRetries       uint64
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

func DefaultConfig() Config {
	return Config{
		PerSourceTimeout: 10 * time.Second,
		MaxRetries:       3,
		InitialBackoff:   200 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
	}
}

// Fetcher holds the named sources and the shared HTTP client used to query
// them, plus the last-known outcome for each source.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	sources map[string]Source

	mu        sync.RWMutex
	lastOutcome map[string]SourceOutcome
}

func New(cfg Config) *Fetcher {
	if cfg.PerSourceTimeout == 0 {
		cfg = DefaultConfig()
	}
	return &Fetcher{
		cfg:         cfg,
		client:      &http.Client{},
		sources:     make(map[string]Source),
		lastOutcome: make(map[string]SourceOutcome),
	}
}

// AddSource registers or replaces a named source.
func (f *Fetcher) AddSource(s Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[s.Name] = s
}

// RemoveSource unregisters a named source.
func (f *Fetcher) RemoveSource(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sources, name)
	delete(f.lastOutcome, name)
}

// SourceStatus returns the last fetch_all outcome recorded for name.
func (f *Fetcher) SourceStatus(name string) (SourceOutcome, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	o, ok := f.lastOutcome[name]
	return o, ok
}

// FetchAll concurrently queries every enabled source, deduplicates the
// combined candidate list by (host, port) keeping the first occurrence, and
// returns it. A single source's failure — including exhausting its retries
// — never fails the overall fetch; it is recorded in that source's outcome
// and simply contributes zero candidates.
func (f *Fetcher) FetchAll(ctx context.Context) []Candidate {
	f.mu.RLock()
	sources := make([]Source, 0, len(f.sources))
	for _, s := range f.sources {
		if s.Enabled {
			sources = append(sources, s)
		}
	}
	f.mu.RUnlock()

	type sourceResult struct {
		name       string
		candidates []Candidate
		err        error
	}
	results := make(chan sourceResult, len(sources))

	var wg sync.WaitGroup
	for _, s := range sources {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			cands, err := f.fetchSourceWithRetry(ctx, s)
			results <- sourceResult{name: s.Name, candidates: cands, err: err}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{})
	out := make([]Candidate, 0)
	for r := range results {
		f.recordOutcome(r.name, len(r.candidates), r.err)
		for _, c := range r.candidates {
			if _, dup := seen[c.key()]; dup {
				continue
			}
			seen[c.key()] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func (f *Fetcher) recordOutcome(name string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOutcome[name] = SourceOutcome{
		SourceName:   name,
		CandidateLen: n,
		At:           time.Now(),
		Err:          err,
	}
}

// fetchSourceWithRetry wraps fetchSource in an exponential backoff retry
// (spec §4.5: "per-source timeout and retry-with-backoff").
func (f *Fetcher) fetchSourceWithRetry(ctx context.Context, s Source) ([]Candidate, error) {
	var candidates []Candidate

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff
	b.MaxInterval = f.cfg.MaxBackoff
	bctx := backoff.WithContext(backoff.WithMaxRetries(b, f.cfg.MaxRetries), ctx)

	op := func() error {
		cands, err := f.fetchSource(ctx, s)
		if err != nil {
			return err
		}
		candidates = cands
		return nil
	}

	if err := backoff.Retry(op, bctx); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (f *Fetcher) fetchSource(ctx context.Context, s Source) ([]Candidate, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = f.cfg.PerSourceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("source %s: build request: %w", s.Name, err)
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("source %s: status %d", s.Name, resp.StatusCode)
	}

	switch s.Format {
	case FormatCSV:
		return parseCSV(resp.Body, s)
	case FormatJSON:
		return parseJSON(resp.Body, s)
	case FormatHTMLTable:
		return parseHTMLTable(resp.Body, s)
	default:
		return parsePlainText(resp.Body, s)
	}
}

func defaultScheme(s Source) pool.Scheme {
	if s.DefaultScheme == "" {
		return pool.SchemeHTTP
	}
	return s.DefaultScheme
}

func parsePlainText(r io.Reader, s Source) ([]Candidate, error) {
	scheme := defaultScheme(s)
	var out []Candidate
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if c, ok := parseHostPort(line, scheme, s.Name); ok {
			out = append(out, c)
		}
	}
	return out, scanner.Err()
}

func parseCSV(r io.Reader, s Source) ([]Candidate, error) {
	scheme := defaultScheme(s)
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var out []Candidate
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("source %s: csv: %w", s.Name, err)
		}
		if len(record) < 2 {
			continue
		}
		host := strings.TrimSpace(record[0])
		port, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil || host == "" {
			continue
		}
		rowScheme := scheme
		if len(record) >= 3 && record[2] != "" {
			rowScheme = pool.Scheme(strings.ToLower(strings.TrimSpace(record[2])))
		}
		out = append(out, Candidate{Host: host, Port: port, Scheme: rowScheme, SourceTag: s.Name})
	}
	return out, nil
}

// jsonProxyEntry matches the common shape of JSON proxy-list APIs.
type jsonProxyEntry struct {
	IP     string `json:"ip"`
	Host   string `json:"host"`
	Port   any    `json:"port"`
	Scheme string `json:"scheme"`
	Proto  string `json:"protocol"`
}

func parseJSON(r io.Reader, s Source) ([]Candidate, error) {
	scheme := defaultScheme(s)
	var entries []jsonProxyEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("source %s: json: %w", s.Name, err)
	}
	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		host := e.Host
		if host == "" {
			host = e.IP
		}
		if host == "" {
			continue
		}
		port, ok := jsonPort(e.Port)
		if !ok {
			continue
		}
		rowScheme := scheme
		if e.Scheme != "" {
			rowScheme = pool.Scheme(strings.ToLower(e.Scheme))
		} else if e.Proto != "" {
			rowScheme = pool.Scheme(strings.ToLower(e.Proto))
		}
		out = append(out, Candidate{Host: host, Port: port, Scheme: rowScheme, SourceTag: s.Name})
	}
	return out, nil
}

func jsonPort(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		p, err := strconv.Atoi(n)
		return p, err == nil
	default:
		return 0, false
	}
}

// parseHTMLTable extracts (host, port) pairs from an HTML page using a CSS
// selector naming the rows; each matched element's text is expected to
// contain "host:port", one per row.
func parseHTMLTable(r io.Reader, s Source) ([]Candidate, error) {
	scheme := defaultScheme(s)
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("source %s: html: %w", s.Name, err)
	}

	var out []Candidate
	doc.Find(s.Selector).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if c, ok := parseHostPort(text, scheme, s.Name); ok {
			out = append(out, c)
		}
	})
	return out, nil
}

func parseHostPort(text string, scheme pool.Scheme, sourceTag string) (Candidate, bool) {
	idx := strings.LastIndex(text, ":")
	if idx <= 0 || idx == len(text)-1 {
		return Candidate{}, false
	}
	host := strings.TrimSpace(text[:idx])
	port, err := strconv.Atoi(strings.TrimSpace(text[idx+1:]))
	if err != nil || host == "" {
		return Candidate{}, false
	}
	return Candidate{Host: host, Port: port, Scheme: scheme, SourceTag: sourceTag}, true
}
