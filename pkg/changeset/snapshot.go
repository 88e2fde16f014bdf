package changeset

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/NERVsystems/stopsync/pkg/osm"
)

// The snapshot is JOSM's session format: plain OSM XML with an action
// attribute per element and upload="false" on the root so the editor refuses
// to upload it unreviewed.

type xmlSnapshot struct {
	XMLName   xml.Name     `xml:"osm"`
	Version   string       `xml:"version,attr"`
	Generator string       `xml:"generator,attr"`
	Upload    string       `xml:"upload,attr"`
	Elements  []xmlElement `xml:",any"`
}

type xmlElement struct {
	XMLName   xml.Name
	ID        int64       `xml:"id,attr"`
	Action    string      `xml:"action,attr,omitempty"`
	Timestamp string      `xml:"timestamp,attr,omitempty"`
	UID       int64       `xml:"uid,attr,omitempty"`
	User      string      `xml:"user,attr,omitempty"`
	Visible   string      `xml:"visible,attr"`
	Version   int         `xml:"version,attr,omitempty"`
	Changeset int64       `xml:"changeset,attr,omitempty"`
	Lat       string      `xml:"lat,attr,omitempty"`
	Lon       string      `xml:"lon,attr,omitempty"`
	Nodes     []xmlNd     `xml:"nd"`
	Members   []xmlMember `xml:"member"`
	Tags      []xmlTag    `xml:"tag"`
}

type xmlNd struct {
	Ref int64 `xml:"ref,attr"`
}

type xmlMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type xmlTag struct {
	Key   string `xml:"k,attr"`
	Value string `xml:"v,attr"`
}

// snapshotAction maps an action onto JOSM's attribute. New elements are
// recognised by their negative id and only need "modify".
func snapshotAction(a osm.Action) (string, error) {
	switch a {
	case osm.ActionNone:
		return "", nil
	case osm.ActionCreate, osm.ActionModify, osm.ActionRelocate:
		return "modify", nil
	case osm.ActionDelete:
		return "delete", nil
	default:
		return "", fmt.Errorf("unknown action %d", int(a))
	}
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 7, 64)
}

func toXML(e *osm.Element) (xmlElement, error) {
	action, err := snapshotAction(e.Action)
	if err != nil {
		return xmlElement{}, fmt.Errorf("%s: %w", e.Key(), err)
	}
	x := xmlElement{
		XMLName: xml.Name{Local: string(e.Type)},
		ID:      e.ID,
		Action:  action,
		Visible: "true",
	}
	if e.ID > 0 && e.Meta != nil {
		if !e.Meta.Timestamp.IsZero() {
			x.Timestamp = e.Meta.Timestamp.UTC().Format(time.RFC3339)
		}
		x.UID = e.Meta.UID
		x.User = e.Meta.User
		x.Version = e.Meta.Version
		x.Changeset = e.Meta.Changeset
	}
	if e.Type == osm.NodeType && e.Location != nil {
		x.Lat = formatCoord(e.Location.Lat())
		x.Lon = formatCoord(e.Location.Lon())
	}
	for _, n := range e.Nodes {
		x.Nodes = append(x.Nodes, xmlNd{Ref: n})
	}
	for _, m := range e.Members {
		x.Members = append(x.Members, xmlMember{Type: string(m.Type), Ref: m.Ref, Role: m.Role})
	}
	for _, k := range e.SortedTagKeys() {
		v := strings.TrimSpace(e.Tags[k])
		if v == "" {
			continue
		}
		x.Tags = append(x.Tags, xmlTag{Key: k, Value: v})
	}
	return x, nil
}

// WriteSnapshot writes every collected element, context and actioned alike,
// as a JOSM document. Provenance is written only for pre-existing elements.
func (a *Assembler) WriteSnapshot(w io.Writer, generator string) error {
	doc := xmlSnapshot{
		Version:   "0.6",
		Generator: generator,
		Upload:    "false",
		Elements:  make([]xmlElement, 0, len(a.elements)),
	}
	for _, e := range a.elements {
		x, err := toXML(e)
		if err != nil {
			return err
		}
		doc.Elements = append(doc.Elements, x)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
