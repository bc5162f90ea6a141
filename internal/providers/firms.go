package providers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/cleanspace/airquest/internal/models"
)

const firmsBase = "https://firms.modaps.eosdis.nasa.gov"

// NASAFirms serves fires from the FIRMS area CSV API. Span is the
// half-width of the search box in degrees.
type NASAFirms struct {
	c      *client
	mapKey string
	Span   float64
	Source string
	Days   int
}

// NewNASAFirms creates the provider. It is unavailable without a map key.
func NewNASAFirms(mapKey string, opts Options) *NASAFirms {
	return &NASAFirms{
		c:      newClient(opts, firmsBase, 1),
		mapKey: mapKey,
		Span:   0.5,
		Source: "VIIRS_SNPP_NRT",
		Days:   1,
	}
}

func (p *NASAFirms) Name() string    { return "nasa-firms" }
func (p *NASAFirms) Available() bool { return p.mapKey != "" }

// Fetch implements gateway.Provider.
func (p *NASAFirms) Fetch(ctx context.Context, loc models.Location) (*gateway.Reading, error) {
	area := fmt.Sprintf("%.3f,%.3f,%.3f,%.3f",
		loc.Longitude-p.Span, loc.Latitude-p.Span, loc.Longitude+p.Span, loc.Latitude+p.Span)
	path := fmt.Sprintf("/api/area/csv/%s/%s/%s/%d", p.mapKey, p.Source, area, p.Days)

	body, err := p.c.get(ctx, path, map[string]string{"Accept": "text/csv"})
	if err != nil {
		return nil, err
	}
	fires, err := parseFirmsCSV(body)
	if err != nil {
		return nil, err
	}

	return &gateway.Reading{
		Fires:     fires,
		Metrics:   map[string]float64{"fire_count": float64(len(fires))},
		FetchedAt: time.Now().UTC(),
	}, nil
}

func parseFirmsCSV(body []byte) ([]gateway.Fire, error) {
	r := csv.NewReader(bytes.NewReader(body))
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{"latitude", "longitude"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing %s column", required)
		}
	}

	field := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}
	num := func(rec []string, names ...string) float64 {
		for _, n := range names {
			if v, err := strconv.ParseFloat(field(rec, n), 64); err == nil {
				return v
			}
		}
		return 0
	}

	var fires []gateway.Fire
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		f := gateway.Fire{
			Latitude:   num(rec, "latitude"),
			Longitude:  num(rec, "longitude"),
			Brightness: num(rec, "bright_ti4", "brightness"),
			FRP:        num(rec, "frp"),
			Confidence: field(rec, "confidence"),
		}
		hhmm := field(rec, "acq_time")
		if len(hhmm) < 4 {
			hhmm = strings.Repeat("0", 4-len(hhmm)) + hhmm
		}
		acq := field(rec, "acq_date") + " " + hhmm
		if t, err := time.Parse("2006-01-02 1504", acq); err == nil {
			f.DetectedAt = t.UTC()
		}
		fires = append(fires, f)
	}
	return fires, nil
}
