package bom

import (
	"strconv"
	"strings"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	cdx "github.com/CycloneDX/cyclonedx-go"
)

const propPrefix = "eolaudit:"

// FromReport describes every analyzed host as a device component with its
// operating system as a nested component. Lifecycle data and the status are
// stored as properties.
func FromReport(r model.AuditReport) *Builder {
	b := NewBuilder().
		WithSerial(r.ID).
		WithTimestamp(r.GeneratedAt).
		AppendProperties(
			prop("reference_date", r.ReferenceDate.Format(model.DateLayout)),
			prop("targets", r.Targets),
			prop("total_requested", strconv.Itoa(r.Requested)),
			prop("total_probed", strconv.Itoa(r.Probed)),
			prop("total_analyzed", strconv.Itoa(r.Analyzed)),
			prop("incomplete", strconv.FormatBool(r.Incomplete)),
		)
	for _, status := range model.Statuses {
		b.AppendProperties(prop("summary:"+strings.ToLower(string(status)), strconv.Itoa(r.Summary.Count(status))))
	}

	for _, f := range r.Findings {
		device, nested := deviceComponent(f)
		b.AppendDevice(device, nested...)
	}
	return b
}

func deviceComponent(f model.Finding) (cdx.Component, []string) {
	ip := f.Host.IP.String()
	ref := "device/" + ip
	props := []cdx.Property{
		prop("ip", ip),
		prop("reachability", string(f.Host.Reachability)),
		prop("status", string(f.Status)),
		prop("day_count", strconv.Itoa(f.DayCount)),
		prop("overdue", strconv.FormatBool(f.Overdue)),
		prop("message", f.Message),
	}
	if f.FamilyRisk {
		props = append(props, prop("family_risk", "true"))
	}
	for _, p := range f.Host.Ports {
		props = append(props, prop("open_port", strconv.Itoa(int(p.Port))))
	}

	device := cdx.Component{
		BOMRef:     ref,
		Type:       cdx.ComponentTypeDevice,
		Name:       f.Host.Name(),
		Properties: &props,
	}
	if !f.Fingerprint.Known() {
		return device, nil
	}

	osRef := "os/" + ip
	device.Components = &[]cdx.Component{osComponent(osRef, f)}
	return device, []string{osRef}
}

func osComponent(ref string, f model.Finding) cdx.Component {
	fp := f.Fingerprint
	name := fp.Product
	if name == "" {
		name = fp.Family
	}
	props := []cdx.Property{
		prop("family", fp.Family),
		prop("confidence", strconv.FormatFloat(fp.Confidence, 'f', 2, 64)),
		prop("rule", fp.Rule),
	}
	if e := f.Entry; e != nil {
		props = append(props, prop("eol_date", e.EOLDate.Format(model.DateLayout)))
		if e.ExtendedSupport != nil {
			props = append(props, prop("extended_support_date", e.ExtendedSupport.Format(model.DateLayout)))
		}
		for _, alt := range e.Alternatives {
			props = append(props, prop("alternative", alt))
		}
	}

	c := cdx.Component{
		BOMRef:      ref,
		Type:        cdx.ComponentTypeOS,
		Name:        name,
		Version:     fp.Version,
		Description: fp.Evidence,
		Properties:  &props,
	}
	if fp.Vendor != "" {
		c.Manufacturer = &cdx.OrganizationalEntity{Name: fp.Vendor}
	}
	return c
}

func prop(name, value string) cdx.Property {
	return cdx.Property{Name: propPrefix + name, Value: value}
}
