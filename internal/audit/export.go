package audit

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// Format selects an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatCEF  Format = "cef"
)

// ParseFormat accepts json, csv and cef (also "siem" for cef) in any casing.
func ParseFormat(v string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "cef", "siem", "siem-cef":
		return FormatCEF, nil
	default:
		return "", utils.Validation("audit.ParseFormat", "unsupported export format %q", v)
	}
}

// ContentType is the HTTP media type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatCEF:
		return "text/plain"
	default:
		return "application/json"
	}
}

// CSVHeader is the fixed header row of CSV exports.
var CSVHeader = []string{"timestamp", "event_type", "actor", "resource_type", "resource_id", "action_type", "outcome", "severity"}

// Export writes the records matching criteria to w. Paging applies only when PageSize is set.
func (s *Sink) Export(ctx context.Context, criteria models.AuditCriteria, format Format, w io.Writer) error {
	const op = "audit.Export"
	var records []models.AuditRecord
	if criteria.PageSize > 0 {
		page, err := s.Search(ctx, criteria)
		if err != nil {
			return err
		}
		records = page.Records
	} else {
		var err error
		if records, err = s.collect(ctx, op, criteria); err != nil {
			return err
		}
	}

	var err error
	switch format {
	case FormatJSON:
		err = WriteJSON(w, records)
	case FormatCSV:
		err = WriteCSV(w, records)
	case FormatCEF:
		err = WriteCEF(w, records)
	default:
		return utils.Validation(op, "unsupported export format %q", format)
	}
	if err != nil {
		return utils.NewKindError(op, utils.KindSerializationFailed, "encode export", err)
	}
	return nil
}

// WriteJSON writes records as a pretty-printed JSON array.
func WriteJSON(w io.Writer, records []models.AuditRecord) error {
	if records == nil {
		records = []models.AuditRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// WriteCSV writes the header row followed by one row per record.
func WriteCSV(w io.Writer, records []models.AuditRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.EventType,
			r.Actor.ID,
			r.Resource.Type,
			r.Resource.ID,
			r.Action.Type,
			string(r.Action.Outcome),
			string(r.Severity),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCEF writes one ArcSight CEF line per record.
func WriteCEF(w io.Writer, records []models.AuditRecord) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := bw.WriteString(CEFLine(r)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

var (
	cefHeaderEscaper    = strings.NewReplacer(`\`, `\\`, `|`, `\|`, "\n", " ", "\r", " ")
	cefExtensionEscaper = strings.NewReplacer(`\`, `\\`, `=`, `\=`, "\n", `\n`, "\r", `\r`)
)

// CEFLine renders a record in the CEF:0 template.
func CEFLine(r models.AuditRecord) string {
	return fmt.Sprintf("CEF:0|PhantomSpire|AuditEngine|1.0|%s|%s|%d|src=%s suser=%s cs1=%s cs2=%s",
		cefHeaderEscaper.Replace(r.EventType),
		cefHeaderEscaper.Replace(r.Action.Description),
		cefSeverity(r.Severity),
		cefExtensionEscaper.Replace(r.Actor.Address),
		cefExtensionEscaper.Replace(r.Actor.ID),
		cefExtensionEscaper.Replace(r.Resource.Type),
		cefExtensionEscaper.Replace(r.Resource.ID),
	)
}
