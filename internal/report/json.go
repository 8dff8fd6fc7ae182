package report

import (
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"
)

// Document is the structured form of an AuditReport
type Document struct {
	ID              string                 `json:"id"`
	GeneratedBy     string                 `json:"generated_by"`
	ReferenceDate   string                 `json:"reference_date"`
	GeneratedAt     time.Time              `json:"generated_at"`
	Targets         string                 `json:"targets,omitempty"`
	TotalRequested  int                    `json:"total_requested"`
	TotalProbed     int                    `json:"total_probed"`
	TotalAnalyzed   int                    `json:"total_analyzed"`
	Incomplete      bool                   `json:"incomplete"`
	ExitCode        int                    `json:"exit_code"`
	Summary         model.Summary          `json:"summary"`
	Findings        []FindingDoc           `json:"findings"`
	Recommendations []model.Recommendation `json:"recommendations"`
}

type FindingDoc struct {
	IP              string             `json:"ip"`
	Hostname        string             `json:"hostname,omitempty"`
	Reachability    model.Reachability `json:"reachability"`
	OpenPorts       []uint16           `json:"open_ports"`
	OS              model.Fingerprint  `json:"os"`
	EOL             *EOLDoc            `json:"eol,omitempty"`
	Status          model.Status       `json:"status"`
	DayCount        int                `json:"day_count"`
	Overdue         bool               `json:"overdue"`
	FamilyRisk      bool               `json:"family_risk"`
	Message         string             `json:"message"`
	Recommendations []string           `json:"recommendations"`
}

type EOLDoc struct {
	Name            string   `json:"name"`
	Vendor          string   `json:"vendor"`
	Product         string   `json:"product"`
	Version         string   `json:"version"`
	EOLDate         string   `json:"eol_date"`
	ExtendedSupport string   `json:"extended_support_date,omitempty"`
	Alternatives    []string `json:"alternatives,omitempty"`
}

// NewDocument converts a report to its structured form
func NewDocument(r model.AuditReport) Document {
	doc := Document{
		ID:              r.ID,
		GeneratedBy:     "eolaudit",
		ReferenceDate:   r.ReferenceDate.Format(model.DateLayout),
		GeneratedAt:     r.GeneratedAt,
		Targets:         r.Targets,
		TotalRequested:  r.Requested,
		TotalProbed:     r.Probed,
		TotalAnalyzed:   r.Analyzed,
		Incomplete:      r.Incomplete,
		ExitCode:        ExitCode(r),
		Summary:         r.Summary,
		Findings:        make([]FindingDoc, 0, len(r.Findings)),
		Recommendations: r.Recommendations,
	}
	if doc.Recommendations == nil {
		doc.Recommendations = []model.Recommendation{}
	}
	for _, f := range r.Findings {
		doc.Findings = append(doc.Findings, findingDoc(f))
	}
	return doc
}

func findingDoc(f model.Finding) FindingDoc {
	ports := make([]uint16, 0, len(f.Host.Ports))
	for _, p := range f.Host.Ports {
		ports = append(ports, p.Port)
	}
	recs := []string{}
	if f.Status == model.StatusCritical || f.Status == model.StatusWarning {
		recs = append(recs, f.Alternatives()...)
	}
	doc := FindingDoc{
		IP:              f.Host.IP.String(),
		Hostname:        f.Host.Hostname,
		Reachability:    f.Host.Reachability,
		OpenPorts:       ports,
		OS:              f.Fingerprint,
		Status:          f.Status,
		DayCount:        f.DayCount,
		Overdue:         f.Overdue,
		FamilyRisk:      f.FamilyRisk,
		Message:         f.Message,
		Recommendations: recs,
	}
	if e := f.Entry; e != nil {
		doc.EOL = &EOLDoc{
			Name:         e.Name(),
			Vendor:       e.Vendor,
			Product:      e.Product,
			Version:      e.Version,
			EOLDate:      e.EOLDate.Format(model.DateLayout),
			Alternatives: e.Alternatives,
		}
		if e.ExtendedSupport != nil {
			doc.EOL.ExtendedSupport = e.ExtendedSupport.Format(model.DateLayout)
		}
	}
	return doc
}

// WriteJSON writes the indented structured document
func WriteJSON(w io.Writer, r model.AuditReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(r)); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// ReadDocument decodes a document written by WriteJSON
func ReadDocument(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decoding report: %w", err)
	}
	return doc, nil
}

// ReadReport decodes a document written by WriteJSON back into a report.
// Banners and latencies of open ports are not part of the document.
func ReadReport(r io.Reader) (model.AuditReport, error) {
	doc, err := ReadDocument(r)
	if err != nil {
		return model.AuditReport{}, err
	}
	return doc.Report()
}

// Report converts the document back to the report it was created from
func (d Document) Report() (model.AuditReport, error) {
	ref, err := time.Parse(model.DateLayout, d.ReferenceDate)
	if err != nil {
		return model.AuditReport{}, fmt.Errorf("reference_date: %w", err)
	}
	r := model.AuditReport{
		ID:              d.ID,
		ReferenceDate:   ref,
		GeneratedAt:     d.GeneratedAt,
		Targets:         d.Targets,
		Requested:       d.TotalRequested,
		Probed:          d.TotalProbed,
		Analyzed:        d.TotalAnalyzed,
		Incomplete:      d.Incomplete,
		Summary:         d.Summary,
		Findings:        make([]model.Finding, 0, len(d.Findings)),
		Recommendations: d.Recommendations,
	}
	for i, fd := range d.Findings {
		f, err := fd.finding()
		if err != nil {
			return model.AuditReport{}, fmt.Errorf("findings[%d]: %w", i, err)
		}
		r.Findings = append(r.Findings, f)
	}
	return r, nil
}

func (fd FindingDoc) finding() (model.Finding, error) {
	ip, err := netip.ParseAddr(fd.IP)
	if err != nil {
		return model.Finding{}, err
	}
	host := model.HostRecord{
		IP:           ip,
		Hostname:     fd.Hostname,
		Reachability: fd.Reachability,
	}
	for _, p := range fd.OpenPorts {
		host.Ports = append(host.Ports, model.PortSignal{Port: p})
	}
	f := model.Finding{
		Host:        host,
		Fingerprint: fd.OS,
		Status:      fd.Status,
		DayCount:    fd.DayCount,
		Overdue:     fd.Overdue,
		FamilyRisk:  fd.FamilyRisk,
		Message:     fd.Message,
	}
	if e := fd.EOL; e != nil {
		entry := model.EOLEntry{
			Vendor:       e.Vendor,
			Product:      e.Product,
			Version:      e.Version,
			Alternatives: e.Alternatives,
		}
		if entry.EOLDate, err = time.Parse(model.DateLayout, e.EOLDate); err != nil {
			return model.Finding{}, fmt.Errorf("eol_date: %w", err)
		}
		if e.ExtendedSupport != "" {
			ext, err := time.Parse(model.DateLayout, e.ExtendedSupport)
			if err != nil {
				return model.Finding{}, fmt.Errorf("extended_support_date: %w", err)
			}
			entry.ExtendedSupport = &ext
		}
		f.Entry = &entry
	}
	return f, nil
}
