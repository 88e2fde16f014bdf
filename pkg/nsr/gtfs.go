package nsr

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// quayPrefix is the stop_id prefix the national GTFS export uses for quays.
const quayPrefix = "NSR:Quay:"

// RouteUsage is the set of quays served by at least one scheduled trip, with
// the short names of the routes serving each.
type RouteUsage struct {
	routes map[string]map[string]struct{}
}

// NewRouteUsage returns an empty usage set.
func NewRouteUsage() *RouteUsage {
	return &RouteUsage{routes: make(map[string]map[string]struct{})}
}

// Add records that route serves quay. An empty route name only marks the quay
// as used.
func (u *RouteUsage) Add(quay, route string) {
	set, ok := u.routes[quay]
	if !ok {
		set = make(map[string]struct{})
		u.routes[quay] = set
	}
	if route != "" {
		set[route] = struct{}{}
	}
}

// Used reports whether any trip calls at quay.
func (u *RouteUsage) Used(quay string) bool {
	if u == nil {
		return false
	}
	_, ok := u.routes[quay]
	return ok
}

// Routes returns the route short names serving quay in natural order.
func (u *RouteUsage) Routes(quay string) []string {
	if u == nil {
		return nil
	}
	set := u.routes[quay]
	routes := make([]string, 0, len(set))
	for r := range set {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool { return NaturalLess(routes[i], routes[j]) })
	return routes
}

// RouteRef returns the route_ref value for quay, or "" when unserved.
func (u *RouteUsage) RouteRef(quay string) string {
	return strings.Join(u.Routes(quay), ";")
}

// Len returns the number of used quays.
func (u *RouteUsage) Len() int {
	if u == nil {
		return 0
	}
	return len(u.routes)
}

func joinRoutes(set map[string]struct{}) string {
	routes := make([]string, 0, len(set))
	for r := range set {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool { return NaturalLess(routes[i], routes[j]) })
	return strings.Join(routes, ";")
}

// LoadRouteUsage reads a GTFS zip archive and returns the quays called at by
// its trips.
func LoadRouteUsage(path string) (*RouteUsage, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening GTFS archive: %w", err)
	}
	defer zr.Close()
	return ReadRouteUsage(&zr.Reader)
}

// ReadRouteUsage joins routes.txt, trips.txt and stop_times.txt of an open
// GTFS archive.
func ReadRouteUsage(zr *zip.Reader) (*RouteUsage, error) {
	shortNames := make(map[string]string)
	err := readTable(zr, "routes.txt", []string{"route_id"}, func(row map[string]string) {
		name := row["route_short_name"]
		if name == "" {
			name = row["route_long_name"]
		}
		shortNames[row["route_id"]] = strings.TrimSpace(name)
	})
	if err != nil {
		return nil, err
	}

	tripRoute := make(map[string]string)
	err = readTable(zr, "trips.txt", []string{"trip_id", "route_id"}, func(row map[string]string) {
		tripRoute[row["trip_id"]] = shortNames[row["route_id"]]
	})
	if err != nil {
		return nil, err
	}

	usage := NewRouteUsage()
	err = readTable(zr, "stop_times.txt", []string{"trip_id", "stop_id"}, func(row map[string]string) {
		stopID := row["stop_id"]
		if !strings.HasPrefix(stopID, quayPrefix) {
			return
		}
		route, ok := tripRoute[row["trip_id"]]
		if !ok {
			return
		}
		usage.Add(strings.TrimPrefix(stopID, quayPrefix), route)
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// readTable streams one CSV file of the archive, calling fn with each row keyed
// by header name.
func readTable(zr *zip.Reader, name string, required []string, fn func(map[string]string)) error {
	f, err := zr.Open(name)
	if err != nil {
		return fmt.Errorf("GTFS %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("GTFS %s header: %w", name, err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	for _, want := range required {
		found := false
		for _, c := range columns {
			if c == want {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("GTFS %s: missing column %q", name, want)
		}
	}

	row := make(map[string]string, len(columns))
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("GTFS %s: %w", name, err)
		}
		for i, c := range columns {
			if i < len(record) {
				row[c] = record[i]
			} else {
				row[c] = ""
			}
		}
		fn(row)
	}
}
