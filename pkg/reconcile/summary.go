package reconcile

import (
	"log/slog"
	"time"

	"github.com/NERVsystems/stopsync/pkg/monitoring"
	"github.com/NERVsystems/stopsync/pkg/region"
)

// Counts tallies the stops of a region by outcome. New is provisional in a
// region: those stops are only created after the last region.
type Counts struct {
	Examined    int
	InReference int
	Matched     int
	Unchanged   int
	Modified    int
	Relocated   int
	Deleted     int
	New         int
	UserEdited  int
	Other       int
}

// Changes returns the number of edits to upload, excluding creations.
func (c Counts) Changes() int {
	return c.Modified + c.Relocated + c.Deleted
}

func (c *Counts) add(o Counts) {
	c.Examined += o.Examined
	c.InReference += o.InReference
	c.Matched += o.Matched
	c.Unchanged += o.Unchanged
	c.Modified += o.Modified
	c.Relocated += o.Relocated
	c.Deleted += o.Deleted
	c.UserEdited += o.UserEdited
	c.Other += o.Other
}

func (c Counts) record(regionName string) {
	monitoring.RecordStops(regionName, monitoring.StageExamined, c.Examined)
	monitoring.RecordStops(regionName, monitoring.StageReference, c.InReference)
	monitoring.RecordStops(regionName, monitoring.StageMatched, c.Matched)
	monitoring.RecordStops(regionName, monitoring.StageModified, c.Modified+c.Relocated)
	monitoring.RecordStops(regionName, monitoring.StageDeleted, c.Deleted)
	monitoring.RecordStops(regionName, monitoring.StageNew, c.New)
	monitoring.RecordStops(regionName, monitoring.StageUserEdited, c.UserEdited)
	monitoring.RecordStops(regionName, monitoring.StageOther, c.Other)
}

// RegionSummary is the outcome of one region.
type RegionSummary struct {
	Region   region.Region
	Counts   Counts
	Duration time.Duration
}

// Summary is the outcome of a run. Total sums the regions except New, which
// is the number actually created.
type Summary struct {
	Regions       []RegionSummary
	Total         Counts
	Created       int
	ExcludedQuays int
	Elements      int
	Duration      time.Duration
}

func (s *Summary) add(rs RegionSummary) {
	s.Regions = append(s.Regions, rs)
	s.Total.add(rs.Counts)
}

// Changes returns every edit the run proposes, creations included.
func (s *Summary) Changes() int {
	return s.Total.Changes() + s.Created
}

// Log writes the totals at info level.
func (s *Summary) Log(logger *slog.Logger) {
	logger.Info("run summary",
		"regions", len(s.Regions),
		"examined", s.Total.Examined,
		"matched", s.Total.Matched,
		"modified", s.Total.Modified,
		"relocated", s.Total.Relocated,
		"deleted", s.Total.Deleted,
		"created", s.Created,
		"user_edited", s.Total.UserEdited,
		"other", s.Total.Other,
		"changes", s.Changes(),
		"excluded_quays", s.ExcludedQuays,
		"elements", s.Elements,
		"duration", s.Duration,
	)
}
