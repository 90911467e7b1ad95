package app

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"

	"allais-survey-service/internal/domain"
	"github.com/rotisserie/eris"
)

var csvHeader = []string{
	"workerId", "assignmentId", "fontCondition", "attributionCondition",
	"lottery1Choice", "lottery2Choice", "allaisPattern",
	"completionTimeMs", "createdAt",
}

// ExportRecord is one valid response prepared for offline analysis.
type ExportRecord struct {
	WorkerID              string    `json:"workerId"`
	AssignmentID          string    `json:"assignmentId"`
	FontCondition         string    `json:"fontCondition"`
	AttributionCondition  string    `json:"attributionCondition"`
	Lottery1Choice        string    `json:"lottery1Choice"`
	Lottery2Choice        string    `json:"lottery2Choice"`
	AllaisPattern         string    `json:"allaisPattern"`
	CompletionTimeMs      int64     `json:"-"`
	CompletionTimeMinutes int64     `json:"completionTimeMinutes"`
	SubmissionDate        time.Time `json:"submissionDate"`
}

// Export is the JSON export envelope.
type Export struct {
	ExperimentID string         `json:"experimentId"`
	ExportDate   time.Time      `json:"exportDate"`
	TotalRecords int            `json:"totalRecords"`
	Data         []ExportRecord `json:"data"`
}

func newExport(experimentID string, rs []domain.StoredResponse, now time.Time) Export {
	data := make([]ExportRecord, 0, len(rs))
	for _, r := range rs {
		data = append(data, ExportRecord{
			WorkerID:              r.WorkerID,
			AssignmentID:          r.AssignmentID,
			FontCondition:         string(r.FontCondition),
			AttributionCondition:  string(r.AttributionCondition),
			Lottery1Choice:        r.Lottery1Choice,
			Lottery2Choice:        r.Lottery2Choice,
			AllaisPattern:         string(r.AllaisPattern),
			CompletionTimeMs:      r.CompletionTimeMs,
			CompletionTimeMinutes: int64(math.Round(float64(r.CompletionTimeMs) / 60000)),
			SubmissionDate:        r.CreatedAt,
		})
	}
	return Export{
		ExperimentID: experimentID,
		ExportDate:   now.UTC(),
		TotalRecords: len(data),
		Data:         data,
	}
}

// WriteCSV writes the export as CSV with a header row.
func (e Export) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "write csv header")
	}
	for _, r := range e.Data {
		row := []string{
			r.WorkerID, r.AssignmentID, r.FontCondition, r.AttributionCondition,
			r.Lottery1Choice, r.Lottery2Choice, r.AllaisPattern,
			strconv.FormatInt(r.CompletionTimeMs, 10),
			r.SubmissionDate.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "flush csv")
}
