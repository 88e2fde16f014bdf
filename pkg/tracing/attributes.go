package tracing

import "go.opentelemetry.io/otel/attribute"

const (
	AttrRegionName  = "stopsync.region.name"
	AttrRegionCode  = "stopsync.region.code"
	AttrRegionIndex = "stopsync.region.index"
	AttrRegions     = "stopsync.regions.count"
	AttrStopsCount  = "stopsync.stops.count"
	AttrChanges     = "stopsync.changes.count"

	AttrStopKind = "stopsync.stop.kind"
	AttrStopRef  = "stopsync.stop.ref"
	AttrAction   = "stopsync.action"
	AttrDistance = "stopsync.distance_m"

	AttrServiceName      = "stopsync.service.name"
	AttrRateLimitService = "stopsync.ratelimit.service"
	AttrRateLimitWaitMs  = "stopsync.ratelimit.wait_ms"
	AttrHTTPStatusCode   = "http.status_code"

	AttrErrorCode = "error.code"
)

// Services called during a run, as named in spans and metrics.
const (
	ServiceOverpass = "overpass"
	ServiceOSMAPI   = "osm-api"
	ServiceNeTEx    = "netex"
	ServiceRegions  = "regions"
)

// EventClassified is added to a region span for every stop that changes.
const EventClassified = "stop.classified"

// RegionAttributes describes the snapshot of the index-th region of a run.
func RegionAttributes(name, code string, index, elements int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRegionName, name),
		attribute.String(AttrRegionCode, code),
		attribute.Int(AttrRegionIndex, index),
		attribute.Int(AttrStopsCount, elements),
	}
}

// ActionAttributes describes the verdict for one stop.
func ActionAttributes(kind, ref, action string, distance float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStopKind, kind),
		attribute.String(AttrStopRef, ref),
		attribute.String(AttrAction, action),
	}
	if distance > 0 {
		attrs = append(attrs, attribute.Float64(AttrDistance, distance))
	}
	return attrs
}

func ErrorAttributes(code string, err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{attribute.String(AttrErrorCode, code)}
}
