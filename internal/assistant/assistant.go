// Package assistant produces mission recommendations and analysis, using a
// hosted generative model when configured and a local heuristic otherwise.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cleanspace/airquest/internal/sim"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-1.5-flash"
)

// Recommendation is a suggested next action.
type Recommendation struct {
	Action            sim.ActionType `json:"action"`
	Title             string         `json:"title"`
	Reason            string         `json:"reason"`
	Priority          int            `json:"priority"`
	ExpectedAQIChange int            `json:"expected_aqi_change"`
}

// Analysis is a summary of the session state.
type Analysis struct {
	Summary string   `json:"summary"`
	Risk    string   `json:"risk"`
	Trend   string   `json:"trend"`
	Tips    []string `json:"tips"`
	Source  string   `json:"source"`
}

// Client talks to the Gemini generateContent endpoint.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel overrides the model name.
func WithModel(m string) Option {
	return func(c *Client) { c.model = m }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client. With an empty apiKey every call uses the local
// fallback.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the remote model is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Recommend returns up to three suggested actions for st.
func (c *Client) Recommend(ctx context.Context, st sim.State) []Recommendation {
	if !c.Enabled() {
		return LocalRecommendations(st)
	}

	var recs []Recommendation
	if err := c.generate(ctx, recommendPrompt(st), &recs); err != nil {
		log.Printf("Assistant recommend failed, using local fallback: %v", err)
		return LocalRecommendations(st)
	}
	valid := recs[:0]
	for _, r := range recs {
		if _, ok := sim.Lookup(r.Action); ok {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return LocalRecommendations(st)
	}
	return valid
}

// Analyze summarizes st.
func (c *Client) Analyze(ctx context.Context, st sim.State) Analysis {
	if !c.Enabled() {
		return LocalAnalysis(st)
	}

	var a Analysis
	if err := c.generate(ctx, analyzePrompt(st), &a); err != nil || a.Summary == "" {
		if err == nil {
			err = fmt.Errorf("empty summary")
		}
		log.Printf("Assistant analyze failed, using local fallback: %v", err)
		return LocalAnalysis(st)
	}
	a.Source = "gemini"
	return a
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

func (c *Client) generate(ctx context.Context, prompt string, out interface{}) error {
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json", Temperature: 0.2},
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var gr struct {
		Candidates []struct {
			Content content `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return fmt.Errorf("no candidates in response")
	}

	text := strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

func stateSummary(st sim.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current AQI %d, baseline %d, target %d. ", st.CurrentAQI, st.BaselineAQI, st.TargetAQI)
	fmt.Fprintf(&b, "Credits %d, health %.0f, energy %.0f, %s remaining. ",
		st.Player.Credits, st.Player.Health, st.Player.Energy, st.TimeRemaining.Round(time.Second))
	b.WriteString("Available actions: ")
	for i, s := range sim.Catalog() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s (cost %d)", s.Type, s.Cost)
	}
	b.WriteString(".")
	return b.String()
}

func recommendPrompt(st sim.State) string {
	return "You advise a player reducing urban air pollution. " + stateSummary(st) +
		` Reply with a JSON array of up to 3 objects with fields action, title, reason, priority, expected_aqi_change.`
}

func analyzePrompt(st sim.State) string {
	return "Analyze this air quality mission. " + stateSummary(st) +
		` Reply with a JSON object with fields summary, risk, trend (improving|stable|worsening) and tips (array of strings).`
}
