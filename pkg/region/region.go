// Package region provides the administrative regions a run iterates over.
package region

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/NERVsystems/stopsync/pkg/core"
	"github.com/NERVsystems/stopsync/pkg/tracing"
)

// DefaultCountyURL lists the Norwegian counties with their two-digit numbers.
const DefaultCountyURL = "https://ws.geonorge.no/kommuneinfo/v1/fylker"

// Region is one administrative area. Code is the prefix shared by the
// municipality codes inside it; Name is matched against the boundary name in
// the geographic dataset.
type Region struct {
	Code string `yaml:"code" validate:"required,numeric,len=2"`
	Name string `yaml:"name" validate:"required"`
}

func (r Region) String() string {
	return r.Code + " " + r.Name
}

// Catalog is an ordered list of regions.
type Catalog struct {
	regions []Region
}

// NewCatalog returns the regions sorted by code. Later duplicates of a code
// are dropped.
func NewCatalog(regions []Region) *Catalog {
	seen := make(map[string]bool, len(regions))
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		out = append(out, Region{Code: r.Code, Name: strings.TrimSpace(r.Name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return &Catalog{regions: out}
}

// Regions returns every region in code order.
func (c *Catalog) Regions() []Region {
	return append([]Region(nil), c.regions...)
}

// Len returns the number of regions.
func (c *Catalog) Len() int {
	return len(c.regions)
}

// Lookup returns the region with the given code.
func (c *Catalog) Lookup(code string) (Region, bool) {
	for _, r := range c.regions {
		if r.Code == code {
			return r, true
		}
	}
	return Region{}, false
}

type county struct {
	Number string `json:"fylkesnummer"`
	Name   string `json:"fylkesnavn"`
}

// Fetch loads the county list from the national place-name service.
func Fetch(ctx context.Context, url string, client core.Doer, policy core.RetryPolicy) (*Catalog, error) {
	if url == "" {
		url = DefaultCountyURL
	}
	factory := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := core.Do(ctx, tracing.ServiceRegions, factory, client, policy)
	if err != nil {
		return nil, fmt.Errorf("fetching regions: %w", err)
	}
	defer resp.Body.Close()

	var counties []county
	if err := json.NewDecoder(resp.Body).Decode(&counties); err != nil {
		return nil, core.NewError(core.ErrParse, "decoding region list").
			WithService(tracing.ServiceRegions).
			WithCause(err)
	}

	regions := make([]Region, 0, len(counties))
	for _, c := range counties {
		if c.Number == "" || c.Name == "" {
			continue
		}
		regions = append(regions, Region{Code: c.Number, Name: c.Name})
	}
	if len(regions) == 0 {
		return nil, core.NewError(core.ErrParse, "region list is empty").WithService(tracing.ServiceRegions)
	}
	return NewCatalog(regions), nil
}
