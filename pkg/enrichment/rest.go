package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// RESTConfig configures the REST-backed threat-intel adapter.
type RESTConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	TenantID     string
	Timeout      time.Duration
	LookbackHrs  int
}

// REST queries an external threat-intel/SIEM API over HTTP, authenticating
// with an OAuth2 client-credentials bearer token and guarding the call with
// a circuit breaker. Any failure - auth, transport, decode, or an open
// breaker - is swallowed into the "unknown" default result; this type never
// returns an error to its caller, per the Enricher contract.
type REST struct {
	cfg     RESTConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewREST builds a REST enricher. If TokenURL is empty, requests are made
// without an Authorization header.
func NewREST(cfg RESTConfig, logger *zap.Logger) *REST {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LookbackHrs <= 0 {
		cfg.LookbackHrs = 24
	}

	var httpClient *http.Client
	if cfg.TokenURL != "" {
		tokenCfg := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = oauth2.NewClient(context.Background(), tokenCfg.TokenSource(context.Background()))
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = cfg.Timeout

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "enrichment-rest",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &REST{cfg: cfg, client: httpClient, breaker: breaker, logger: logger}
}

type searchResponse struct {
	TotalCount int `json:"total_count"`
	Results    []struct {
		Severity int `json:"severity"`
	} `json:"results"`
}

type alert struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	GroupKey    string `json:"group_key"`
	Severity    string `json:"severity"`
}

type alertsResponse struct {
	Alerts []alert `json:"alerts"`
}

// Enrich queries the search, active-alerts, and resolved-alerts endpoints
// and derives a risk score the same way the boundary-SIEM integration does:
// a severity-proportion base, a capped critical-alert boost, and a volume
// boost for high event counts.
func (r *REST) Enrich(ctx context.Context, event types.KillEvent) types.EnrichmentResult {
	start := time.Now()
	module := event.TargetModule

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.query(ctx, module)
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("enrichment failed, using defaults",
				zap.String("module", module), zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		}
		return types.DefaultEnrichmentResult()
	}

	enrichment := result.(types.EnrichmentResult)
	if r.logger != nil {
		r.logger.Info("enrichment complete",
			zap.String("module", module), zap.Float64("risk_score", enrichment.RiskScore),
			zap.String("recommendation", enrichment.Recommendation), zap.Duration("elapsed", time.Since(start)))
	}
	return enrichment
}

func (r *REST) query(ctx context.Context, module string) (types.EnrichmentResult, error) {
	search, err := r.search(ctx, module)
	if err != nil {
		return types.EnrichmentResult{}, err
	}
	active, err := r.alerts(ctx, module, "new")
	if err != nil {
		return types.EnrichmentResult{}, err
	}
	resolved, err := r.alerts(ctx, module, "resolved")
	if err != nil {
		return types.EnrichmentResult{}, err
	}

	totalEvents := search.TotalCount
	var highSeverity int
	for _, e := range search.Results {
		if e.Severity >= 7 {
			highSeverity++
		}
	}

	var critical int
	for _, a := range active {
		if a.Severity == "critical" || a.Severity == "high" {
			critical++
		}
	}

	riskScore := 0.0
	if totalEvents > 0 {
		riskScore = float64(highSeverity) / float64(totalEvents) * 0.5
	}
	boost := 0.3 * float64(critical)
	if boost > 0.4 {
		boost = 0.4
	}
	riskScore += boost
	if totalEvents > 20 {
		riskScore += 0.1
	}
	riskScore = types.Clamp(riskScore, 0.0, 1.0)

	var recommendation string
	switch {
	case critical > 0:
		recommendation = "deny_resurrection"
	case riskScore > 0.5:
		recommendation = "manual_review"
	case riskScore < 0.2 && len(resolved) > 0:
		recommendation = "safe_to_resurrect"
	case totalEvents == 0:
		recommendation = "no_data"
	default:
		recommendation = "proceed_with_caution"
	}

	return types.EnrichmentResult{
		RiskScore:            riskScore,
		FalsePositiveHistory: len(resolved),
		Recommendation:       recommendation,
	}, nil
}

func (r *REST) search(ctx context.Context, module string) (searchResponse, error) {
	var out searchResponse
	body := map[string]interface{}{
		"query":      fmt.Sprintf(`source.product = "%s" AND severity >= 1`, module),
		"start_time": fmt.Sprintf("now-%dh", r.cfg.LookbackHrs),
		"end_time":   "now",
		"limit":      100,
		"order_by":   "severity",
		"order_desc": true,
	}
	if err := r.postJSON(ctx, "/v1/search", body, &out); err != nil {
		return searchResponse{}, err
	}
	return out, nil
}

func (r *REST) alerts(ctx context.Context, module, status string) ([]alert, error) {
	var out alertsResponse
	path := fmt.Sprintf("/v1/alerts?status=%s&limit=100", status)
	if err := r.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	matched := make([]alert, 0, len(out.Alerts))
	for _, a := range out.Alerts {
		if contains(a.Title, module) || contains(a.Description, module) || contains(a.GroupKey, module) {
			matched = append(matched, a)
		}
	}
	return matched, nil
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func (r *REST) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

func (r *REST) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return r.do(req, out)
}

func (r *REST) do(req *http.Request, out interface{}) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("enrichment upstream returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HealthCheck reports whether the upstream is reachable.
func (r *REST) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
