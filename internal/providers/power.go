package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/cleanspace/airquest/internal/models"
)

const powerBase = "https://power.larc.nasa.gov"

// powerMissing is the fill value NASA POWER uses for absent data.
const powerMissing = -999

// NASAPower serves precipitation from the NASA POWER daily point API.
type NASAPower struct {
	c    *client
	days int
	now  func() time.Time
}

// NewNASAPower creates the provider.
func NewNASAPower(opts Options) *NASAPower {
	return &NASAPower{c: newClient(opts, powerBase, 2), days: 7, now: time.Now}
}

func (p *NASAPower) Name() string    { return "nasa-power" }
func (p *NASAPower) Available() bool { return true }

// Fetch implements gateway.Provider. It reports the latest non-missing daily
// total and the mean over the window.
func (p *NASAPower) Fetch(ctx context.Context, loc models.Location) (*gateway.Reading, error) {
	end := p.now().UTC().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(p.days - 1))

	q := coords(loc)
	q.Set("parameters", "PRECTOTCORR")
	q.Set("community", "RE")
	q.Set("start", start.Format("20060102"))
	q.Set("end", end.Format("20060102"))
	q.Set("format", "JSON")

	var resp struct {
		Properties struct {
			Parameter map[string]map[string]float64 `json:"parameter"`
		} `json:"properties"`
	}
	if err := p.c.getJSON(ctx, "/api/temporal/daily/point?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	series := resp.Properties.Parameter["PRECTOTCORR"]
	days := make([]string, 0, len(series))
	for d, v := range series {
		if v > powerMissing {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no precipitation data in window")
	}
	sort.Strings(days)

	var sum float64
	for _, d := range days {
		sum += series[d]
	}
	return &gateway.Reading{
		Metrics: map[string]float64{
			"precipitation_mm":      series[days[len(days)-1]],
			"precipitation_mean_mm": sum / float64(len(days)),
			"days":                  float64(len(days)),
		},
		FetchedAt: time.Now().UTC(),
	}, nil
}
