// Package settings resolves the immutable per-run settings bundle.
//
// Values come from three layers with a fixed precedence: caller overrides,
// then the Main_Settings table of the workbook, then the defaults below.
package settings

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/devskill-org/capacity-planner/tables"
)

// Snapshot sampling strategies.
const (
	AllSnapshots = "All Snapshots"
	CriticalDays = "Critical days"
	TypicalDays  = "Typical days"
)

// Multi-year investment modes.
const (
	SingleYear        = "No"
	CapacityExpansion = "Only Capacity expansion on multi year"
	AllInOne          = "All in One multi year"
)

// SolarChargingMode restricts invertor links to solar / non-solar hours.
const SolarChargingMode = "Solar and Non solar hours"

// Solver holds solver choice and the knobs of both algorithm families.
type Solver struct {
	Name      string  `json:"name"`
	Algorithm string  `json:"algorithm"` // "simplex" or "branch-and-bound"
	Threads   int     `json:"threads"`
	Presolve  bool    `json:"presolve"`
	Parallel  bool    `json:"parallel"`
	Tolerance float64 `json:"tolerance"`

	MIPGap            float64 `json:"mip_gap"`
	BranchingStrategy int     `json:"branching_strategy"`
	NodeLimit         int     `json:"node_limit"`
}

// Settings is resolved once per run and never modified afterwards.
type Settings struct {
	Strategy           string `json:"strategy"`
	Resolution         int    `json:"resolution"` // hours per snapshot
	BaseYear           int    `json:"base_year"`  // 0 = first demand year
	MultiYear          string `json:"multi_year"`
	Cluster            bool   `json:"cluster"`
	UnitCommitment     bool   `json:"unit_commitment"`
	MonthlyConstraints bool   `json:"monthly_constraints"`

	ChargingMode  string `json:"charging_mode"`
	SolarStart    int    `json:"solar_start"` // hour of day, inclusive
	SolarEnd      int    `json:"solar_end"`   // hour of day, exclusive
	HasSolarHours bool   `json:"has_solar_hours"`

	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	HasLocation bool    `json:"has_location"`

	Solver Solver `json:"solver"`
}

// Defaults returns the hard-coded fallback settings.
func Defaults() Settings {
	return Settings{
		Strategy:   AllSnapshots,
		Resolution: 1,
		MultiYear:  CapacityExpansion,
		Solver: Solver{
			Name:      "sparse",
			Algorithm: "simplex",
			Threads:   1,
			Presolve:  true,
			Tolerance: 1e-9,
			MIPGap:    1e-4,
			NodeLimit: 10000,
		},
	}
}

// ValueError reports a setting whose value cannot be used.
type ValueError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("setting %q has invalid value %q: %s", e.Key, e.Value, e.Reason)
}

type field int

const (
	fStrategy field = iota
	fResolution
	fBaseYear
	fMultiYear
	fCluster
	fUnitCommitment
	fMonthly
	fChargingMode
	fSolarStart
	fSolarEnd
	fLatitude
	fLongitude
	fSolver
	fAlgorithm
	fThreads
	fPresolve
	fParallel
	fTolerance
	fMIPGap
	fBranching
	fNodeLimit
)

// aliases maps normalized setting names, as they appear in workbooks and
// override maps, to fields.
var aliases = map[string]field{
	"runpypsamodelon":     fStrategy,
	"runmodelon":          fStrategy,
	"snapshotstrategy":    fStrategy,
	"strategy":            fStrategy,
	"snapshots":           fStrategy,
	"weightings":          fResolution,
	"resolution":          fResolution,
	"snapshotresolution":  fResolution,
	"baseyear":            fBaseYear,
	"multiyearinvestment": fMultiYear,
	"multiyear":           fMultiYear,
	"multiyearmode":       fMultiYear,
	"generatorcluster":    fCluster,
	"cluster":             fCluster,
	"clustering":          fCluster,
	"committable":         fUnitCommitment,
	"commitable":          fUnitCommitment,
	"unitcommitment":      fUnitCommitment,
	"monthlyconstraints":  fMonthly,
	"chargingmode":        fChargingMode,
	"solarhoursstart":     fSolarStart,
	"solarhourstart":      fSolarStart,
	"solarstart":          fSolarStart,
	"solarhoursend":       fSolarEnd,
	"solarhourend":        fSolarEnd,
	"solarend":            fSolarEnd,
	"latitude":            fLatitude,
	"lat":                 fLatitude,
	"longitude":           fLongitude,
	"lon":                 fLongitude,
	"solver":              fSolver,
	"solvername":          fSolver,
	"algorithm":           fAlgorithm,
	"solveralgorithm":     fAlgorithm,
	"threads":             fThreads,
	"presolve":            fPresolve,
	"parallel":            fParallel,
	"tolerance":           fTolerance,
	"primaltolerance":     fTolerance,
	"mipgap":              fMIPGap,
	"dualitygap":          fMIPGap,
	"branchingstrategy":   fBranching,
	"strategyindex":       fBranching,
	"nodelimit":           fNodeLimit,
}

// Resolve builds the settings bundle. mainTable may be empty; its first
// column is the setting name and its second the value. Unknown names are
// logged and ignored.
func Resolve(mainTable tables.Table, overrides map[string]string, logger *log.Logger) (Settings, error) {
	if logger == nil {
		logger = log.Default()
	}

	values := make(map[field]entry)
	if len(mainTable.Columns) >= 2 {
		for i := range mainTable.Rows {
			key, val := mainTable.Cell(i, 0), mainTable.Cell(i, 1)
			collect(values, key, val, "workbook", logger)
		}
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		collect(values, k, overrides[k], "override", logger)
	}

	s := Defaults()
	for f := fStrategy; f <= fNodeLimit; f++ {
		e, ok := values[f]
		if !ok {
			continue
		}
		if err := s.apply(f, e); err != nil {
			return Settings{}, err
		}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

type entry struct {
	key    string
	value  string
	source string
}

func collect(values map[field]entry, key, value, source string, logger *log.Logger) {
	if strings.TrimSpace(key) == "" {
		return
	}
	f, ok := aliases[tables.NormalizeKey(key)]
	if !ok {
		logger.Printf("Ignoring unknown setting %q (%s)", key, source)
		return
	}
	if strings.TrimSpace(value) == "" {
		return
	}
	values[f] = entry{key: key, value: strings.TrimSpace(value), source: source}
}

func (s *Settings) apply(f field, e entry) error {
	switch f {
	case fStrategy:
		s.Strategy = canonicalStrategy(e.value)
	case fResolution:
		v, err := parseInt(e)
		if err != nil {
			return err
		}
		s.Resolution = v
	case fBaseYear:
		v, err := parseInt(e)
		if err != nil {
			return err
		}
		s.BaseYear = v
	case fMultiYear:
		m, ok := canonicalMultiYear(e.value)
		if !ok {
			return &ValueError{Key: e.key, Value: e.value, Reason: "unknown multi-year investment mode"}
		}
		s.MultiYear = m
	case fCluster:
		return parseBool(e, &s.Cluster)
	case fUnitCommitment:
		return parseBool(e, &s.UnitCommitment)
	case fMonthly:
		return parseBool(e, &s.MonthlyConstraints)
	case fChargingMode:
		if tables.NormalizeKey(e.value) == tables.NormalizeKey(SolarChargingMode) {
			s.ChargingMode = SolarChargingMode
		} else {
			s.ChargingMode = e.value
		}
	case fSolarStart:
		v, err := parseHour(e)
		if err != nil {
			return err
		}
		s.SolarStart = v
		s.HasSolarHours = true
	case fSolarEnd:
		v, err := parseHour(e)
		if err != nil {
			return err
		}
		s.SolarEnd = v
		s.HasSolarHours = true
	case fLatitude:
		v, err := parseFloat(e)
		if err != nil {
			return err
		}
		s.Latitude = v
		s.HasLocation = true
	case fLongitude:
		v, err := parseFloat(e)
		if err != nil {
			return err
		}
		s.Longitude = v
		s.HasLocation = true
	case fSolver:
		s.Solver.Name = strings.ToLower(e.value)
	case fAlgorithm:
		s.Solver.Algorithm = canonicalAlgorithm(e.value)
	case fThreads:
		v, err := parseInt(e)
		if err != nil {
			return err
		}
		s.Solver.Threads = v
	case fPresolve:
		return parseBool(e, &s.Solver.Presolve)
	case fParallel:
		return parseBool(e, &s.Solver.Parallel)
	case fTolerance:
		v, err := parseFloat(e)
		if err != nil {
			return err
		}
		s.Solver.Tolerance = v
	case fMIPGap:
		v, err := parseFloat(e)
		if err != nil {
			return err
		}
		s.Solver.MIPGap = v
	case fBranching:
		v, err := parseInt(e)
		if err != nil {
			return err
		}
		s.Solver.BranchingStrategy = v
	case fNodeLimit:
		v, err := parseInt(e)
		if err != nil {
			return err
		}
		s.Solver.NodeLimit = v
	}
	return nil
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if s.Resolution < 1 || s.Resolution > 24 {
		return &ValueError{Key: "resolution", Value: strconv.Itoa(s.Resolution), Reason: "must be between 1 and 24 hours"}
	}
	if s.BaseYear != 0 && (s.BaseYear < 1900 || s.BaseYear > 2200) {
		return &ValueError{Key: "base_year", Value: strconv.Itoa(s.BaseYear), Reason: "out of range"}
	}
	if s.Solver.Threads < 1 {
		return &ValueError{Key: "threads", Value: strconv.Itoa(s.Solver.Threads), Reason: "must be at least 1"}
	}
	if s.Solver.Tolerance <= 0 {
		return &ValueError{Key: "tolerance", Value: fmt.Sprint(s.Solver.Tolerance), Reason: "must be positive"}
	}
	if s.Solver.MIPGap < 0 {
		return &ValueError{Key: "mip_gap", Value: fmt.Sprint(s.Solver.MIPGap), Reason: "cannot be negative"}
	}
	if s.HasLocation && (s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180) {
		return &ValueError{Key: "latitude/longitude", Value: fmt.Sprintf("%g,%g", s.Latitude, s.Longitude), Reason: "out of range"}
	}
	return nil
}

// Summary renders the resolved settings as one log line.
func (s Settings) Summary() string {
	return fmt.Sprintf("strategy=%q resolution=%dh base_year=%d multi_year=%q cluster=%v unit_commitment=%v monthly_constraints=%v solver=%s/%s threads=%d",
		s.Strategy, s.Resolution, s.BaseYear, s.MultiYear, s.Cluster, s.UnitCommitment, s.MonthlyConstraints,
		s.Solver.Name, s.Solver.Algorithm, s.Solver.Threads)
}

func canonicalStrategy(v string) string {
	switch tables.NormalizeKey(v) {
	case "allsnapshots", "all":
		return AllSnapshots
	case "criticaldays", "critical":
		return CriticalDays
	case "typicaldays", "typical":
		return TypicalDays
	}
	return v
}

func canonicalMultiYear(v string) (string, bool) {
	switch tables.NormalizeKey(v) {
	case "no", "false", "none", "single":
		return SingleYear, true
	case "onlycapacityexpansiononmultiyear", "capacityexpansion", "yes", "true":
		return CapacityExpansion, true
	case "allinonemultiyear", "allinone":
		return AllInOne, true
	}
	return "", false
}

func canonicalAlgorithm(v string) string {
	switch tables.NormalizeKey(v) {
	case "branchandbound", "bnb", "mip", "milp":
		return "branch-and-bound"
	case "simplex", "lp", "dual", "primal":
		return "simplex"
	}
	return strings.ToLower(v)
}

func parseInt(e entry) (int, error) {
	v, ok := tables.ParseFloat(e.value)
	if !ok || v != float64(int(v)) {
		return 0, &ValueError{Key: e.key, Value: e.value, Reason: "expected an integer"}
	}
	return int(v), nil
}

func parseFloat(e entry) (float64, error) {
	v, ok := tables.ParseFloat(e.value)
	if !ok {
		return 0, &ValueError{Key: e.key, Value: e.value, Reason: "expected a number"}
	}
	return v, nil
}

func parseBool(e entry, dst *bool) error {
	v, ok := tables.ParseBool(e.value)
	if !ok {
		return &ValueError{Key: e.key, Value: e.value, Reason: "expected yes or no"}
	}
	*dst = v
	return nil
}

func parseHour(e entry) (int, error) {
	v, err := parseInt(e)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 24 {
		return 0, &ValueError{Key: e.key, Value: e.value, Reason: "hour must be between 0 and 24"}
	}
	return v, nil
}
