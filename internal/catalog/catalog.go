// Package catalog holds the static maturity model taxonomy: dimensions,
// sub-dimensions, aspects, and the capability domains and areas being assessed.
//
// The catalog is immutable once loaded. All lookups are map-backed; a miss is
// reported as (zero, false) rather than an error, since callers validate IDs
// against the catalog before trusting them.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// LevelCount is the number of maturity levels every aspect describes.
const LevelCount = 5

// TechnologyID is the one dimension that is split into sub-dimensions.
const TechnologyID = "technology"

//go:embed maturity_model.yaml
var defaultModel []byte

// Aspect is the smallest rateable unit.
type Aspect struct {
	ID                string   `yaml:"id" json:"id"`
	Name              string   `yaml:"name" json:"name"`
	LevelDescriptions []string `yaml:"levels" json:"levelDescriptions"`
}

// SubDimension groups aspects inside the technology dimension.
type SubDimension struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Aspects []Aspect `yaml:"aspects" json:"aspects"`
}

// Dimension is a top-level maturity category. Exactly one of Aspects or
// SubDimensions is populated.
type Dimension struct {
	ID            string         `yaml:"id" json:"id"`
	Name          string         `yaml:"name" json:"name"`
	Required      bool           `yaml:"required" json:"required"`
	Aspects       []Aspect       `yaml:"aspects,omitempty" json:"aspects,omitempty"`
	SubDimensions []SubDimension `yaml:"subDimensions,omitempty" json:"subDimensions,omitempty"`
}

// HasSubDimensions reports whether the dimension nests its aspects.
func (d *Dimension) HasSubDimensions() bool { return len(d.SubDimensions) > 0 }

// Area is a capability area, the subject of one assessment.
type Area struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	DomainID string `yaml:"-" json:"domainId"`
}

// Domain groups capability areas.
type Domain struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Areas []Area `yaml:"areas" json:"areas"`
}

// Location places an aspect in the taxonomy. SubDimensionID is empty for
// dimensions without sub-dimensions.
type Location struct {
	DimensionID    string
	SubDimensionID string
}

type document struct {
	Version    string      `yaml:"version"`
	Dimensions []Dimension `yaml:"dimensions"`
	Domains    []Domain    `yaml:"domains"`
}

// Catalog is the loaded, indexed maturity model.
type Catalog struct {
	version    string
	dimensions []Dimension
	domains    []Domain

	dimByID    map[string]int
	subByID    map[string]SubDimension
	aspectsOf  map[string][]Aspect
	locations  map[string]Location
	areaByID   map[string]Area
	domainByID map[string]int
	total      int
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded maturity model. It panics if the embedded
// definition is invalid, which is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(defaultModel)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded model: %v", err))
		}
		defaultCat = c
	})
	return defaultCat
}

// Load parses and indexes a YAML maturity model definition.
func Load(data []byte) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	return build(doc)
}

func build(doc document) (*Catalog, error) {
	if len(doc.Dimensions) == 0 {
		return nil, fmt.Errorf("catalog: no dimensions defined")
	}
	c := &Catalog{
		version:    doc.Version,
		dimensions: doc.Dimensions,
		domains:    doc.Domains,
		dimByID:    make(map[string]int, len(doc.Dimensions)),
		subByID:    make(map[string]SubDimension),
		aspectsOf:  make(map[string][]Aspect, len(doc.Dimensions)),
		locations:  make(map[string]Location),
		areaByID:   make(map[string]Area),
		domainByID: make(map[string]int, len(doc.Domains)),
	}

	addAspects := func(aspects []Aspect, loc Location) error {
		for _, a := range aspects {
			if a.ID == "" {
				return fmt.Errorf("catalog: aspect without id in %s", loc.DimensionID)
			}
			if _, dup := c.locations[a.ID]; dup {
				return fmt.Errorf("catalog: duplicate aspect id %q", a.ID)
			}
			if len(a.LevelDescriptions) != LevelCount {
				return fmt.Errorf("catalog: aspect %q has %d level descriptions, want %d",
					a.ID, len(a.LevelDescriptions), LevelCount)
			}
			c.locations[a.ID] = loc
			c.total++
		}
		return nil
	}

	for i, d := range doc.Dimensions {
		if _, dup := c.dimByID[d.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate dimension id %q", d.ID)
		}
		if len(d.Aspects) > 0 && len(d.SubDimensions) > 0 {
			return nil, fmt.Errorf("catalog: dimension %q mixes aspects and sub-dimensions", d.ID)
		}
		c.dimByID[d.ID] = i

		if err := addAspects(d.Aspects, Location{DimensionID: d.ID}); err != nil {
			return nil, err
		}
		flat := append([]Aspect(nil), d.Aspects...)
		for _, s := range d.SubDimensions {
			if _, dup := c.subByID[s.ID]; dup {
				return nil, fmt.Errorf("catalog: duplicate sub-dimension id %q", s.ID)
			}
			c.subByID[s.ID] = s
			if err := addAspects(s.Aspects, Location{DimensionID: d.ID, SubDimensionID: s.ID}); err != nil {
				return nil, err
			}
			flat = append(flat, s.Aspects...)
		}
		c.aspectsOf[d.ID] = flat
	}

	for i := range c.domains {
		dom := &c.domains[i]
		if _, dup := c.domainByID[dom.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate domain id %q", dom.ID)
		}
		c.domainByID[dom.ID] = i
		for j := range dom.Areas {
			dom.Areas[j].DomainID = dom.ID
			a := dom.Areas[j]
			if _, dup := c.areaByID[a.ID]; dup {
				return nil, fmt.Errorf("catalog: duplicate area id %q", a.ID)
			}
			c.areaByID[a.ID] = a
		}
	}
	return c, nil
}

// Version returns the model version string.
func (c *Catalog) Version() string { return c.version }

// Dimensions returns the dimensions in definition order.
func (c *Catalog) Dimensions() []Dimension { return c.dimensions }

// Dimension returns the dimension with the given ID.
func (c *Catalog) Dimension(id string) (Dimension, bool) {
	i, ok := c.dimByID[id]
	if !ok {
		return Dimension{}, false
	}
	return c.dimensions[i], true
}

// AspectsOf returns every aspect of a dimension, flattening sub-dimensions.
func (c *Catalog) AspectsOf(dimensionID string) []Aspect {
	return c.aspectsOf[dimensionID]
}

// AspectsOfSubDimension returns the aspects of one sub-dimension.
func (c *Catalog) AspectsOfSubDimension(subDimensionID string) []Aspect {
	return c.subByID[subDimensionID].Aspects
}

// TotalAspectCount returns the number of aspects across the whole model.
func (c *Catalog) TotalAspectCount() int { return c.total }

// IsRequired reports whether a dimension must be assessed. Unknown IDs are not required.
func (c *Catalog) IsRequired(dimensionID string) bool {
	d, ok := c.Dimension(dimensionID)
	return ok && d.Required
}

// Locate returns where an aspect sits in the taxonomy.
func (c *Catalog) Locate(aspectID string) (Location, bool) {
	loc, ok := c.locations[aspectID]
	return loc, ok
}

// Domains returns the capability domains in definition order.
func (c *Catalog) Domains() []Domain { return c.domains }

// Domain returns the domain with the given ID.
func (c *Catalog) Domain(id string) (Domain, bool) {
	i, ok := c.domainByID[id]
	if !ok {
		return Domain{}, false
	}
	return c.domains[i], true
}

// Area returns the capability area with the given ID.
func (c *Catalog) Area(id string) (Area, bool) {
	a, ok := c.areaByID[id]
	return a, ok
}

// AreasOf returns the areas of a domain.
func (c *Catalog) AreasOf(domainID string) []Area {
	d, ok := c.Domain(domainID)
	if !ok {
		return nil
	}
	return d.Areas
}
