package nsr

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/NERVsystems/stopsync/pkg/core"
)

const (
	stopPlacePrefix    = "NSR:StopPlace:"
	municipalityPrefix = "KVE:TopographicPlace:"

	typeBusStation  = "busStation"
	typeOnstreetBus = "onstreetBus"
	submodeRailRepl = "railReplacementBus"
)

// DataShapeError reports a reference entity skipped because an expected field
// was missing or malformed.
type DataShapeError struct {
	Kind  Kind
	ID    string
	Field string
	Err   error
}

func (e *DataShapeError) Error() string {
	msg := fmt.Sprintf("%s %s: missing or invalid %s", e.Kind, e.ID, e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataShapeError) Unwrap() error {
	return e.Err
}

type locationXML struct {
	Longitude string `xml:"Centroid>Location>Longitude"`
	Latitude  string `xml:"Centroid>Location>Latitude"`
}

func (l locationXML) point() (orb.Point, error) {
	lon, err := strconv.ParseFloat(strings.TrimSpace(l.Longitude), 64)
	if err != nil {
		return orb.Point{}, err
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(l.Latitude), 64)
	if err != nil {
		return orb.Point{}, err
	}
	if err := core.ValidateCoords(lat, lon); err != nil {
		return orb.Point{}, err
	}
	return orb.Point{lon, lat}, nil
}

type quayXML struct {
	ID          string `xml:"id,attr"`
	Version     string `xml:"version,attr"`
	PublicCode  string `xml:"PublicCode"`
	PrivateCode string `xml:"PrivateCode"`
	locationXML
}

type keyValueXML struct {
	Key   string `xml:"Key"`
	Value string `xml:"Value"`
}

type anyXML struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type stopPlaceXML struct {
	ID            string `xml:"id,attr"`
	Version       string `xml:"version,attr"`
	Name          string `xml:"Name"`
	StopPlaceType string `xml:"StopPlaceType"`
	TransportMode string `xml:"TransportMode"`
	Topographic   struct {
		Ref string `xml:"ref,attr"`
	} `xml:"TopographicPlaceRef"`
	KeyValues []keyValueXML `xml:"keyList>KeyValue"`
	Quays     []quayXML     `xml:"quays>Quay"`
	Other     []anyXML      `xml:",any"`
	locationXML
}

func (sp *stopPlaceXML) submode() string {
	if sp.TransportMode == "" {
		return ""
	}
	want := cases.Title(language.Und).String(sp.TransportMode) + "Submode"
	for _, o := range sp.Other {
		if o.XMLName.Local == want {
			return strings.TrimSpace(o.Value)
		}
	}
	return ""
}

func (sp *stopPlaceXML) municipality() string {
	if !strings.HasPrefix(sp.Topographic.Ref, "KVE") {
		return ""
	}
	return strings.TrimPrefix(sp.Topographic.Ref, municipalityPrefix)
}

// note collects the operator-facing remarks from the key list.
func (sp *stopPlaceXML) note() string {
	var note strings.Builder
	for _, kv := range sp.KeyValues {
		switch {
		case kv.Key == "":
		case strings.Index(kv.Key, "name") > 0:
			note.WriteString(";[" + kv.Value + "]")
		case strings.Index(kv.Key, "comment") > 0:
			if kv.Value != "" {
				note.WriteString(" " + strings.ReplaceAll(kv.Value, "&lt;", "<"))
			}
		}
	}
	return strings.TrimLeft(note.String(), ";")
}

// CleanName collapses doubled spaces, trims and NFC-normalises a name.
func CleanName(name string) string {
	name = strings.ReplaceAll(name, "  ", " ")
	return norm.NFC.String(strings.TrimSpace(name))
}

// LoadResult is the outcome of reading a NeTEx export.
type LoadResult struct {
	Store   *Store
	Skipped []*DataShapeError
}

// LoadNeTEx streams the StopPlace elements of a NeTEx document and keeps the
// bus stations and on-street bus stops located in Norwegian municipalities.
// Rail replacement stops are left out, as is the only quay of a bus station
// with a single quay. Entities without coordinates are skipped and reported.
func LoadNeTEx(r io.Reader, logger *slog.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := &LoadResult{Store: NewStore()}
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading NeTEx: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "StopPlace" {
			continue
		}
		var sp stopPlaceXML
		if err := dec.DecodeElement(&sp, &start); err != nil {
			return nil, fmt.Errorf("decoding StopPlace: %w", err)
		}
		for _, skipped := range res.add(&sp) {
			logger.Warn("skipping reference entity", "kind", skipped.Kind.String(), "ref", skipped.ID, "field", skipped.Field)
			res.Skipped = append(res.Skipped, skipped)
		}
	}

	logger.Info("loaded reference stops",
		"stations", res.Store.Len(Station),
		"quays", res.Store.Len(Quay),
		"skipped", len(res.Skipped),
	)
	return res, nil
}

func (res *LoadResult) add(sp *stopPlaceXML) []*DataShapeError {
	stopType := strings.TrimSpace(sp.StopPlaceType)
	municipality := sp.municipality()
	if (stopType != typeBusStation && stopType != typeOnstreetBus) || municipality == "" {
		return nil
	}
	submode := sp.submode()
	if submode == submodeRailRepl {
		return nil
	}

	var skipped []*DataShapeError
	name := CleanName(sp.Name)
	note := sp.note()
	stationID := strings.TrimPrefix(sp.ID, stopPlacePrefix)

	if stopType == typeBusStation {
		p, err := sp.locationXML.point()
		if err != nil {
			skipped = append(skipped, &DataShapeError{Kind: Station, ID: stationID, Field: "centroid", Err: err})
		} else {
			res.Store.Add(&Stop{
				Kind:         Station,
				ID:           stationID,
				Location:     p,
				Name:         name,
				Municipality: municipality,
				Version:      sp.Version,
				Submode:      submode,
				Note:         note,
			})
		}
	}

	keepQuays := stopType != typeBusStation || len(sp.Quays) != 1
	for _, q := range sp.Quays {
		quayID := strings.TrimPrefix(q.ID, quayPrefix)
		if stopType == typeBusStation {
			res.Store.LinkQuay(quayID, stationID)
		}
		if !keepQuays {
			continue
		}
		p, err := q.locationXML.point()
		if err != nil {
			skipped = append(skipped, &DataShapeError{Kind: Quay, ID: quayID, Field: "centroid", Err: err})
			continue
		}

		stop := &Stop{
			Kind:         Quay,
			ID:           quayID,
			Location:     p,
			Municipality: municipality,
			StopType:     stopType,
			Version:      q.Version,
		}
		ref := strings.TrimSpace(q.PublicCode)

		if stopType == typeBusStation {
			stop.Station = stationID
			if ref != "" {
				stop.Name = ref
				stop.OfficialName = name + " (" + ref + ")"
				stop.Ref = ref
			} else {
				stop.OfficialName = name
				stop.UnsignedRef = strings.TrimSpace(q.PrivateCode)
			}
		} else {
			if ref != "" {
				stop.Name = name + " (" + ref + ")"
				stop.Ref = ref
			} else {
				stop.Name = name
			}
			stop.Submode = submode
			stop.Note = note
		}
		res.Store.Add(stop)
	}
	return skipped
}

// OpenNeTExZip opens the first file of a NeTEx zip export. Closing the returned
// reader closes the archive.
func OpenNeTExZip(path string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening NeTEx archive: %w", err)
	}
	if len(zr.File) == 0 {
		zr.Close()
		return nil, fmt.Errorf("NeTEx archive %s is empty", path)
	}
	f, err := zr.File[0].Open()
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("opening %s: %w", zr.File[0].Name, err)
	}
	return &zipEntry{ReadCloser: f, archive: zr}, nil
}

type zipEntry struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipEntry) Close() error {
	err := z.ReadCloser.Close()
	if cerr := z.archive.Close(); err == nil {
		err = cerr
	}
	return err
}
