// Package eol implements the knowledge base of operating system lifecycle dates.
//
// The knowledge base is loaded once from an ordered list of YAML sources, the
// embedded defaults usually come first. It is never modified after the load, so
// it can be shared by concurrent readers without synchronization.
package eol

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaults []byte

// Source is a named YAML document with a list of lifecycle records
type Source struct {
	Name string
	Data []byte
}

// Defaults returns the embedded knowledge base
func Defaults() Source {
	return Source{Name: "defaults.yaml", Data: defaults}
}

// FileSource reads a knowledge base file
func FileSource(path string) (Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("%w: knowledge base: %w", model.ErrConfig, err)
	}
	return Source{Name: path, Data: b}, nil
}

type record struct {
	Vendor          string   `yaml:"vendor"`
	Product         string   `yaml:"product"`
	Version         string   `yaml:"version"`
	EOLDate         string   `yaml:"eol_date"`
	ExtendedSupport string   `yaml:"extended_support_date"`
	Alternatives    []string `yaml:"alternatives"`
}

// KnowledgeBase maps normalized keys to lifecycle entries
type KnowledgeBase struct {
	entries  []model.EOLEntry
	index    map[Key]int
	families map[familyKey]struct{}
}

// Match is a result of a Lookup. Entry is set on an exact match, FamilyOnly
// when the product is known but the version is not.
type Match struct {
	Entry      *model.EOLEntry
	FamilyOnly bool
}

func (m Match) Found() bool {
	return m.Entry != nil
}

// Load reads the embedded defaults, unless disabled, followed by the configured files
func Load(ctx context.Context, cfg *model.KnowledgeBase) (*KnowledgeBase, error) {
	var sources []Source
	if cfg == nil || !cfg.SkipDefaults {
		sources = append(sources, Defaults())
	}
	if cfg != nil {
		for _, path := range cfg.Paths {
			src, err := FileSource(path)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
	}
	kb, err := LoadAll(sources...)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "knowledge base loaded", "sources", len(sources), "entries", kb.Len())
	return kb, nil
}

// LoadAll parses all sources in order. A record with the same key as an earlier one
// replaces it. Any invalid record fails the whole load, no partial knowledge base is returned.
func LoadAll(sources ...Source) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{
		index:    make(map[Key]int),
		families: make(map[familyKey]struct{}),
	}
	for _, src := range sources {
		records, err := decode(src)
		if err != nil {
			return nil, err
		}
		for idx, rec := range records {
			entry, err := rec.entry()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: record %d: %w", model.ErrConfig, src.Name, idx+1, err)
			}
			kb.add(entry)
		}
	}
	return kb, nil
}

func decode(src Source) ([]record, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src.Data))
	dec.KnownFields(true)
	var records []record
	err := dec.Decode(&records)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrConfig, src.Name, err)
	}
	return records, nil
}

func (r record) entry() (model.EOLEntry, error) {
	var zero model.EOLEntry
	switch {
	case r.Vendor == "":
		return zero, errors.New("vendor: missing")
	case r.Product == "":
		return zero, errors.New("product: missing")
	case r.Version == "":
		return zero, errors.New("version: missing")
	case r.EOLDate == "":
		return zero, fmt.Errorf("%s %s: eol_date: missing", r.Product, r.Version)
	}
	eolDate, err := time.Parse(model.DateLayout, r.EOLDate)
	if err != nil {
		return zero, fmt.Errorf("%s %s: eol_date: %w", r.Product, r.Version, err)
	}
	entry := model.EOLEntry{
		Vendor:       r.Vendor,
		Product:      r.Product,
		Version:      r.Version,
		EOLDate:      eolDate,
		Alternatives: slices.Clone(r.Alternatives),
	}
	if r.ExtendedSupport != "" {
		ext, err := time.Parse(model.DateLayout, r.ExtendedSupport)
		if err != nil {
			return zero, fmt.Errorf("%s %s: extended_support_date: %w", r.Product, r.Version, err)
		}
		if ext.Before(eolDate) {
			return zero, fmt.Errorf("%s %s: extended_support_date %s is before eol_date %s",
				r.Product, r.Version, r.ExtendedSupport, r.EOLDate)
		}
		entry.ExtendedSupport = &ext
	}
	return entry, nil
}

func (kb *KnowledgeBase) add(entry model.EOLEntry) {
	key := NewKey(entry.Vendor, entry.Product, entry.Version)
	if idx, ok := kb.index[key]; ok {
		kb.entries[idx] = entry
		return
	}
	kb.index[key] = len(kb.entries)
	kb.entries = append(kb.entries, entry)
	kb.families[key.family()] = struct{}{}
}

// Lookup finds an entry for the given identity. The version is tried from the most
// specific token to the least specific one. When only vendor and product match,
// the returned Match has FamilyOnly set and no Entry.
func (kb *KnowledgeBase) Lookup(vendor, product, version string) Match {
	if kb == nil {
		return Match{}
	}
	key := NewKey(vendor, product, version)
	for _, v := range candidates(key.Version) {
		k := key
		k.Version = v
		if idx, ok := kb.index[k]; ok {
			entry := kb.entries[idx]
			return Match{Entry: &entry}
		}
	}
	if _, ok := kb.families[key.family()]; ok && key.Product != "" {
		return Match{FamilyOnly: true}
	}
	return Match{}
}

// LookupFingerprint is a Lookup of a fingerprinted identity
func (kb *KnowledgeBase) LookupFingerprint(fp model.Fingerprint) Match {
	if !fp.Known() {
		return Match{}
	}
	return kb.Lookup(fp.Vendor, fp.Product, fp.Version)
}

// Entries returns a copy of all entries in load order
func (kb *KnowledgeBase) Entries() []model.EOLEntry {
	return slices.Clone(kb.entries)
}

func (kb *KnowledgeBase) Len() int {
	return len(kb.entries)
}
