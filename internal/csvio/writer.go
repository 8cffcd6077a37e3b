package csvio

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/noah-isme/timetable-api/internal/models"
)

// ScheduleRow is one line of an exported timetable.
type ScheduleRow struct {
	Day     string `csv:"Day"`
	Start   string `csv:"Start"`
	End     string `csv:"End"`
	Room    string `csv:"Room"`
	Course  string `csv:"Course"`
	Section string `csv:"Sec"`
	Type    string `csv:"Type"`
	Part    string `csv:"Part"`
	Teacher string `csv:"Teacher"`
	Notes   string `csv:"Notes"`
}

// UnplacedRow is one line of the unplaced-session report.
type UnplacedRow struct {
	Course  string `csv:"Course"`
	Section string `csv:"Sec"`
	Type    string `csv:"Type"`
	Part    string `csv:"Part"`
	Reason  string `csv:"Reason"`
}

// ScheduleRows flattens entries into export rows, keeping their order.
func ScheduleRows(entries []models.ScheduleEntry) []*ScheduleRow {
	rows := make([]*ScheduleRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, &ScheduleRow{
			Day:     e.Day,
			Start:   e.Start,
			End:     e.End,
			Room:    e.Room,
			Course:  e.CourseID,
			Section: e.Section,
			Type:    string(e.Kind),
			Part:    partLabel(e.Part, e.Parts),
			Teacher: strings.Join(e.Staff, ","),
			Notes:   strings.Join(e.Annotations, ";"),
		})
	}
	return rows
}

func partLabel(part, parts int) string {
	if part == 0 {
		return ""
	}
	if parts > 0 {
		return fmt.Sprintf("%d/%d", part, parts)
	}
	return strconv.Itoa(part)
}

// WriteSchedule writes entries as CSV with a header line.
func WriteSchedule(out io.Writer, entries []models.ScheduleEntry) error {
	rows := ScheduleRows(entries)
	if err := gocsv.Marshal(&rows, out); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

// UnplacedRows flattens unplaced tasks into report rows.
func UnplacedRows(unplaced []models.UnplacedTask) []*UnplacedRow {
	rows := make([]*UnplacedRow, 0, len(unplaced))
	for _, u := range unplaced {
		rows = append(rows, &UnplacedRow{
			Course:  u.CourseID,
			Section: u.Section,
			Type:    string(u.Kind),
			Part:    partLabel(u.Part, 0),
			Reason:  u.Reason,
		})
	}
	return rows
}

// WriteUnplaced writes the unplaced-session report as CSV.
func WriteUnplaced(out io.Writer, unplaced []models.UnplacedTask) error {
	rows := UnplacedRows(unplaced)
	if err := gocsv.Marshal(&rows, out); err != nil {
		return fmt.Errorf("write unplaced: %w", err)
	}
	return nil
}

// WriteScheduleFile replaces path with the CSV rendering of entries.
func WriteScheduleFile(path string, entries []models.ScheduleEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteSchedule(f, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
