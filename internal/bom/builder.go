package bom

import (
	"io"
	"runtime/debug"
	"sync"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
)

var toolVersion = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return info.Main.Version
})

// Builder assembles a CycloneDX 1.6 BOM of audited devices
type Builder struct {
	serial       string
	timestamp    time.Time
	components   []cdx.Component
	dependencies []cdx.Dependency
	properties   []cdx.Property
}

func NewBuilder() *Builder {
	return &Builder{
		// the CycloneDX JSON schema does not allow null arrays
		components:   []cdx.Component{},
		dependencies: []cdx.Dependency{},
		properties:   []cdx.Property{},
	}
}

// WithSerial uses given uuid in the serial number, a random one is used otherwise
func (b *Builder) WithSerial(id string) *Builder {
	b.serial = id
	return b
}

func (b *Builder) WithTimestamp(t time.Time) *Builder {
	b.timestamp = t
	return b
}

func (b *Builder) AppendProperties(properties ...cdx.Property) *Builder {
	b.properties = append(b.properties, properties...)
	return b
}

// AppendDevice adds a top level component together with its dependency
// entry, dependsOn lists refs of its nested components
func (b *Builder) AppendDevice(device cdx.Component, dependsOn ...string) *Builder {
	b.components = append(b.components, device)
	deps := append([]string{}, dependsOn...)
	b.dependencies = append(b.dependencies, cdx.Dependency{Ref: device.BOMRef, Dependencies: &deps})
	return b
}

func (b *Builder) BOM() cdx.BOM {
	serial := b.serial
	if serial == "" {
		serial = uuid.NewString()
	}
	ts := b.timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	bom := *cdx.NewBOM()
	bom.JSONSchema = "https://cyclonedx.org/schema/bom-1.6.schema.json"
	bom.SpecVersion = cdx.SpecVersion1_6
	bom.SerialNumber = "urn:uuid:" + serial
	bom.Metadata = &cdx.Metadata{
		Timestamp:  ts.UTC().Format(time.RFC3339),
		Lifecycles: &[]cdx.Lifecycle{{Phase: "operations"}},
		// a nil component breaks the encoder of the tools choice
		Component: toolComponent(),
	}
	bom.Components = &b.components
	bom.Dependencies = &b.dependencies
	bom.Properties = &b.properties
	return bom
}

func toolComponent() *cdx.Component {
	return &cdx.Component{
		Type:    cdx.ComponentTypeApplication,
		Name:    "eolaudit",
		Version: toolVersion(),
		Manufacturer: &cdx.OrganizationalEntity{
			Name: "CZERTAINLY",
			URL:  &[]string{"https://www.czertainly.com"},
		},
	}
}

// AsJSON encodes the BOM as pretty printed JSON
func (b *Builder) AsJSON(w io.Writer) error {
	bom := b.BOM()
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(&bom)
}
