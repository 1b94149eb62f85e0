package network

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

// Builder stages validated component records and materializes a Network
// once everything has been added. A Network never exists half-built.
type Builder struct {
	year       int
	snapshots  []time.Time
	weightings []float64
	logger     *log.Logger

	buses        []Bus
	carriers     []Carrier
	loads        []Load
	generators   []Generator
	storageUnits []StorageUnit
	stores       []Store
	links        []Link

	errs []error
}

// NewBuilder starts a network for year over the given snapshots.
func NewBuilder(year int, snapshots []time.Time, weightings []float64, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{
		year:       year,
		snapshots:  snapshots,
		weightings: weightings,
		logger:     logger,
	}
}

// Snapshots returns the snapshot count the series must match.
func (b *Builder) Snapshots() int { return len(b.snapshots) }

// AddBus stages a bus.
func (b *Builder) AddBus(bus Bus) *Builder {
	if bus.Name == "" {
		b.errs = append(b.errs, errors.New("bus with empty name"))
		return b
	}
	b.buses = append(b.buses, bus)
	return b
}

// AddCarrier stages a carrier. Repeated names are ignored.
func (b *Builder) AddCarrier(c Carrier) *Builder {
	if c.Name == "" {
		return b
	}
	for _, existing := range b.carriers {
		if existing.Name == c.Name {
			return b
		}
	}
	b.carriers = append(b.carriers, c)
	return b
}

// AddLoad stages a load.
func (b *Builder) AddLoad(l Load) *Builder {
	b.loads = append(b.loads, l)
	return b
}

// AddGenerator stages a generator.
func (b *Builder) AddGenerator(g Generator) *Builder {
	if g.PNomMax == 0 && g.PNomExtendable {
		b.logger.Printf("Warning: generator %s is extendable with p_nom_max 0", g.Name)
	}
	b.generators = append(b.generators, g)
	return b
}

// AddStorageUnit stages a storage unit.
func (b *Builder) AddStorageUnit(s StorageUnit) *Builder {
	b.storageUnits = append(b.storageUnits, s)
	return b
}

// AddStore stages a store.
func (b *Builder) AddStore(s Store) *Builder {
	b.stores = append(b.stores, s)
	return b
}

// AddLink stages a link.
func (b *Builder) AddLink(l Link) *Builder {
	b.links = append(b.links, l)
	return b
}

// Build validates everything staged and returns the network. Carriers that
// components reference but nobody registered are added with a warning.
func (b *Builder) Build() (*Network, error) {
	errs := append([]error(nil), b.errs...)
	n := len(b.snapshots)

	if len(b.weightings) != n {
		errs = append(errs, fmt.Errorf("%d weightings for %d snapshots", len(b.weightings), n))
	}

	buses := make(map[string]bool, len(b.buses))
	for _, bus := range b.buses {
		if buses[bus.Name] {
			errs = append(errs, fmt.Errorf("duplicate bus %q", bus.Name))
		}
		buses[bus.Name] = true
	}
	checkBus := func(kind, name, bus string) {
		if !buses[bus] {
			errs = append(errs, fmt.Errorf("%s %q references unknown bus %q", kind, name, bus))
		}
	}
	checkSeries := func(kind, name, field string, s []float64) {
		if s != nil && len(s) != n {
			errs = append(errs, fmt.Errorf("%s %q: %s has %d values for %d snapshots", kind, name, field, len(s), n))
		}
	}
	checkBounds := func(kind, name string, nom, lo, hi float64) {
		if nom < 0 || math.IsNaN(nom) {
			errs = append(errs, fmt.Errorf("%s %q: invalid nominal capacity %v", kind, name, nom))
		}
		if lo > hi {
			errs = append(errs, fmt.Errorf("%s %q: minimum capacity %v exceeds maximum %v", kind, name, lo, hi))
		}
	}
	names := map[string]map[string]bool{}
	checkName := func(kind, name string) {
		if names[kind] == nil {
			names[kind] = map[string]bool{}
		}
		if name == "" {
			errs = append(errs, fmt.Errorf("%s with empty name", kind))
		} else if names[kind][name] {
			errs = append(errs, fmt.Errorf("duplicate %s %q", kind, name))
		}
		names[kind][name] = true
	}

	carriers := append([]Carrier(nil), b.carriers...)
	known := make(map[string]bool, len(carriers))
	for _, c := range carriers {
		known[c.Name] = true
	}
	register := func(name string) {
		if name == "" || known[name] {
			return
		}
		b.logger.Printf("Warning: carrier %q is not in the carrier table, adding it without emissions", name)
		known[name] = true
		carriers = append(carriers, Carrier{Name: name, NiceName: name})
	}

	for _, l := range b.loads {
		checkName("load", l.Name)
		checkBus("load", l.Name, l.Bus)
		if len(l.PSet) != n {
			errs = append(errs, fmt.Errorf("load %q: p_set has %d values for %d snapshots", l.Name, len(l.PSet), n))
		}
	}
	for _, g := range b.generators {
		checkName("generator", g.Name)
		checkBus("generator", g.Name, g.Bus)
		checkSeries("generator", g.Name, "p_min_pu", g.PMinPU.Series)
		checkSeries("generator", g.Name, "p_max_pu", g.PMaxPU.Series)
		checkBounds("generator", g.Name, g.PNom, g.PNomMin, g.PNomMax)
		register(g.Carrier)
	}
	for _, s := range b.storageUnits {
		checkName("storage unit", s.Name)
		checkBus("storage unit", s.Name, s.Bus)
		checkBounds("storage unit", s.Name, s.PNom, s.PNomMin, s.PNomMax)
		if s.EfficiencyStore <= 0 || s.EfficiencyStore > 1 || s.EfficiencyDispatch <= 0 || s.EfficiencyDispatch > 1 {
			errs = append(errs, fmt.Errorf("storage unit %q: efficiencies must be in (0, 1]", s.Name))
		}
		if s.MaxHours <= 0 {
			errs = append(errs, fmt.Errorf("storage unit %q: max_hours must be positive", s.Name))
		}
		if s.StandingLoss < 0 || s.StandingLoss >= 1 {
			errs = append(errs, fmt.Errorf("storage unit %q: standing loss must be in [0, 1)", s.Name))
		}
		register(s.Carrier)
	}
	for _, s := range b.stores {
		checkName("store", s.Name)
		checkBus("store", s.Name, s.Bus)
		checkBounds("store", s.Name, s.ENom, s.ENomMin, s.ENomMax)
		if s.StandingLoss < 0 || s.StandingLoss >= 1 {
			errs = append(errs, fmt.Errorf("store %q: standing loss must be in [0, 1)", s.Name))
		}
		register(s.Carrier)
	}
	for _, l := range b.links {
		checkName("link", l.Name)
		checkBus("link", l.Name, l.Bus0)
		checkBus("link", l.Name, l.Bus1)
		checkSeries("link", l.Name, "p_min_pu", l.PMinPU.Series)
		checkSeries("link", l.Name, "p_max_pu", l.PMaxPU.Series)
		checkBounds("link", l.Name, l.PNom, l.PNomMin, l.PNomMax)
		if l.Efficiency <= 0 || math.IsNaN(l.Efficiency) {
			errs = append(errs, fmt.Errorf("link %q: efficiency must be positive", l.Name))
		}
		register(l.Carrier)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid network for %d: %w", b.year, errors.Join(errs...))
	}

	return &Network{
		Year:         b.year,
		Snapshots:    append([]time.Time(nil), b.snapshots...),
		Weightings:   append([]float64(nil), b.weightings...),
		Buses:        append([]Bus(nil), b.buses...),
		Carriers:     carriers,
		Loads:        append([]Load(nil), b.loads...),
		Generators:   append([]Generator(nil), b.generators...),
		StorageUnits: append([]StorageUnit(nil), b.storageUnits...),
		Stores:       append([]Store(nil), b.stores...),
		Links:        append([]Link(nil), b.links...),
	}, nil
}
