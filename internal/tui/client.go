package tui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// ErrNoSession is returned when the daemon has no active simulation.
var ErrNoSession = errors.New("no active session")

// Client wraps HTTP calls to the CleanSpace API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Rejection is a refused simulation action.
type Rejection struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	return r.Reason + ": " + r.Message
}

func (c *Client) do(method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnprocessableEntity {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("API error: %s", bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// Health checks whether the daemon is reachable.
func (c *Client) Health() bool {
	status, err := c.do(http.MethodGet, "/health", nil, nil)
	return err == nil && status == http.StatusOK
}

type statusPayload struct {
	Offline       bool          `json:"offline"`
	Syncing       bool          `json:"syncing"`
	QueuedCount   int           `json:"queued_count"`
	LastSyncAt    time.Time     `json:"last_sync_at"`
	HasCachedData bool          `json:"has_cached_data"`
	CacheAge      time.Duration `json:"cache_age"`
	DroppedCount  int           `json:"dropped_count"`
	Message       string        `json:"message"`
}

func (p statusPayload) view() *StatusView {
	return &StatusView{
		Offline:       p.Offline,
		Syncing:       p.Syncing,
		QueuedCount:   p.QueuedCount,
		DroppedCount:  p.DroppedCount,
		HasCachedData: p.HasCachedData,
		CacheAge:      p.CacheAge,
		LastSyncAt:    p.LastSyncAt,
		Message:       p.Message,
	}
}

// Status fetches the sync status
func (c *Client) Status() (*StatusView, error) {
	var p statusPayload
	if _, err := c.do(http.MethodGet, "/status", nil, &p); err != nil {
		return nil, err
	}
	return p.view(), nil
}

// SetOnline reports a connectivity change
func (c *Client) SetOnline(online bool) (*StatusView, error) {
	var p statusPayload
	if _, err := c.do(http.MethodPost, "/connectivity", map[string]bool{"online": online}, &p); err != nil {
		return nil, err
	}
	return p.view(), nil
}

// SyncResult summarizes a drain
type SyncResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Dropped   []string `json:"dropped"`
}

// Sync forces a queue drain
func (c *Client) Sync() (*SyncResult, error) {
	var res SyncResult
	if _, err := c.do(http.MethodPost, "/sync", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Pending lists queued actions
func (c *Client) Pending() ([]PendingItem, error) {
	var actions []struct {
		ID         string    `json:"id"`
		Kind       string    `json:"kind"`
		Attempts   int       `json:"attempts"`
		EnqueuedAt time.Time `json:"enqueued_at"`
		LastError  string    `json:"last_error"`
	}
	if _, err := c.do(http.MethodGet, "/actions", nil, &actions); err != nil {
		return nil, err
	}

	items := make([]PendingItem, len(actions))
	for i, a := range actions {
		items[i] = PendingItem{
			ID:         a.ID,
			Kind:       a.Kind,
			Attempts:   a.Attempts,
			EnqueuedAt: a.EnqueuedAt,
			LastError:  a.LastError,
		}
	}
	return items, nil
}

// Enqueue queues an action and returns its id
func (c *Client) Enqueue(kind string, payload interface{}) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if _, err := c.do(http.MethodPost, "/actions", map[string]interface{}{"kind": kind, "payload": payload}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Snapshot fetches current conditions at the daemon's default location
func (c *Client) Snapshot() (*SnapshotView, error) {
	var resp struct {
		Snapshot struct {
			Location struct {
				City string `json:"city"`
			} `json:"location"`
			AirQuality struct {
				AQI  int     `json:"aqi"`
				PM25 float64 `json:"pm25"`
			} `json:"air_quality"`
			Weather struct {
				TemperatureC float64 `json:"temperature_c"`
				Condition    string  `json:"condition"`
			} `json:"weather"`
			Source string `json:"source"`
		} `json:"snapshot"`
		Precautions struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		} `json:"precautions"`
		Category struct {
			Name string `json:"name"`
		} `json:"category"`
		Cached bool `json:"cached"`
		Stale  bool `json:"stale"`
	}
	if _, err := c.do(http.MethodGet, "/snapshot", nil, &resp); err != nil {
		return nil, err
	}

	snap := resp.Snapshot
	return &SnapshotView{
		City:         snap.Location.City,
		AQI:          snap.AirQuality.AQI,
		PM25:         snap.AirQuality.PM25,
		TemperatureC: snap.Weather.TemperatureC,
		Condition:    snap.Weather.Condition,
		Source:       snap.Source,
		Level:        resp.Precautions.Level,
		Advice:       resp.Precautions.Message,
		Category:     resp.Category.Name,
		Cached:       resp.Cached,
		Stale:        resp.Stale,
	}, nil
}

type sessionPayload struct {
	SessionID     string        `json:"session_id"`
	Phase         string        `json:"phase"`
	BaselineAQI   int           `json:"baseline_aqi"`
	CurrentAQI    int           `json:"current_aqi"`
	TargetAQI     int           `json:"target_aqi"`
	TimeRemaining time.Duration `json:"time_remaining"`
	Player        struct {
		Credits      int     `json:"credits"`
		Health       float64 `json:"health"`
		Energy       float64 `json:"energy"`
		Score        int     `json:"score"`
		Location     string  `json:"location"`
		IsInSafeZone bool    `json:"is_in_safe_zone"`
	} `json:"player"`
	Actions   []json.RawMessage        `json:"actions"`
	Cooldowns map[string]time.Duration `json:"cooldowns"`
}

func (p sessionPayload) view() *SessionView {
	return &SessionView{
		SessionID:     p.SessionID,
		Phase:         p.Phase,
		BaselineAQI:   p.BaselineAQI,
		CurrentAQI:    p.CurrentAQI,
		TargetAQI:     p.TargetAQI,
		TimeRemaining: p.TimeRemaining,
		Credits:       p.Player.Credits,
		Health:        p.Player.Health,
		Energy:        p.Player.Energy,
		Score:         p.Player.Score,
		Location:      p.Player.Location,
		Sheltered:     p.Player.IsInSafeZone,
		Actions:       len(p.Actions),
		Cooldowns:     p.Cooldowns,
	}
}

// Session fetches the active simulation
func (c *Client) Session() (*SessionView, error) {
	var p sessionPayload
	status, err := c.do(http.MethodGet, "/sim", nil, &p)
	if status == http.StatusNotFound {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return p.view(), nil
}

// StartSession starts a simulation for mission
func (c *Client) StartSession(mission string) (*SessionView, error) {
	var p sessionPayload
	if _, err := c.do(http.MethodPost, "/sim", map[string]string{"mission_id": mission}, &p); err != nil {
		return nil, err
	}
	return p.view(), nil
}

// ApplyAction proposes an action. A refused proposal returns a *Rejection.
func (c *Client) ApplyAction(actionType, parcelID string) (*SessionView, error) {
	var resp struct {
		State     sessionPayload `json:"state"`
		Rejection *Rejection     `json:"rejection"`
	}
	body := map[string]string{"type": actionType, "parcel_id": parcelID}
	if _, err := c.do(http.MethodPost, "/sim/actions", body, &resp); err != nil {
		return nil, err
	}
	if resp.Rejection != nil {
		return resp.State.view(), resp.Rejection
	}
	return resp.State.view(), nil
}

// Tick advances the simulation
func (c *Client) Tick(seconds float64) (*SessionView, error) {
	var p sessionPayload
	if _, err := c.do(http.MethodPost, "/sim/tick", map[string]float64{"seconds": seconds}, &p); err != nil {
		return nil, err
	}
	return p.view(), nil
}
