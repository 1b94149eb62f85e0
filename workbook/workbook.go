// Package workbook loads planning inputs from an xlsx workbook.
package workbook

import (
	"errors"
	"io"
	"log"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/devskill-org/capacity-planner/expansion"
	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/tables"
)

// Sheet names. Matching ignores case, spaces and underscores.
const (
	SheetSettings           = "Settings"
	SheetBuses              = "Buses"
	SheetGenerators         = "Generators"
	SheetNewGenerators      = "New_Generators"
	SheetStorage            = "Storage"
	SheetNewStorage         = "New_Storage"
	SheetLifetime           = "Lifetime"
	SheetFOM                = "FOM"
	SheetFuelCost           = "Fuel_cost"
	SheetStartupCost        = "Startup_cost"
	SheetCO2                = "CO2"
	SheetCapitalCost        = "Capital_cost"
	SheetWACC               = "wacc"
	SheetPipelineGenerators = "Pipe_Line_Generators"
	SheetPipelineStorage    = "Pipe_Line_Storage"
	SheetLinks              = "Links"
	SheetDemand             = "Demand"
	SheetPMaxPU             = "P_max_pu"
	SheetPMinPU             = "P_min_pu"
	SheetCustomDays         = "Custom_days"
)

var critical = []string{SheetSettings, SheetBuses, SheetDemand}

// Load reads the workbook at path.
func Load(path string, logger *log.Logger) (*inputs.Inputs, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &expansion.InputError{Resource: path, Err: err}
	}
	defer f.Close()
	return fromFile(f, logger)
}

// LoadReader reads a workbook from r.
func LoadReader(r io.Reader, logger *log.Logger) (*inputs.Inputs, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &expansion.InputError{Resource: "workbook", Err: err}
	}
	defer f.Close()
	return fromFile(f, logger)
}

func fromFile(f *excelize.File, logger *log.Logger) (*inputs.Inputs, error) {
	sheets := make(map[string][][]string)
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, &expansion.InputError{Resource: "sheet " + name, Err: err}
		}
		sheets[name] = rows
	}
	return FromSheets(sheets, logger)
}

// FromSheets converts raw sheet grids into inputs. Missing optional sheets
// leave their inputs empty; missing critical sheets are an error.
func FromSheets(sheets map[string][][]string, logger *log.Logger) (*inputs.Inputs, error) {
	if logger == nil {
		logger = log.Default()
	}
	byKey := make(map[string][][]string, len(sheets))
	for name, grid := range sheets {
		byKey[tables.NormalizeKey(name)] = grid
	}
	grid := func(name string) ([][]string, bool) {
		g, ok := byKey[tables.NormalizeKey(name)]
		return g, ok
	}
	sheet := func(name string) tables.Table {
		g, ok := grid(name)
		if !ok {
			logger.Printf("Sheet %s not found, leaving it empty", name)
			return tables.Table{Name: name}
		}
		return tables.FromRows(name, g)
	}

	for _, name := range critical {
		if _, ok := grid(name); !ok {
			return nil, &expansion.InputError{Resource: "sheet " + name, Err: errors.New("sheet is missing")}
		}
	}

	settingsGrid, _ := grid(SheetSettings)
	in := &inputs.Inputs{
		SettingsTables: tables.ExtractMarked(settingsGrid, tables.DefaultMarker, logger),

		Buses:          inputs.ParseBuses(sheet(SheetBuses)),
		BaseGenerators: inputs.ParseGenerators(sheet(SheetGenerators)),
		NewGenerators:  inputs.ParseGenerators(sheet(SheetNewGenerators)),
		BaseStorage:    inputs.ParseStorage(sheet(SheetStorage)),
		NewStorage:     inputs.ParseStorage(sheet(SheetNewStorage)),
		Links:          inputs.ParseLinks(sheet(SheetLinks)),
		Carriers:       inputs.ParseCarriers(sheet(SheetCO2)),

		Lifetimes:    inputs.TechTableFrom(sheet(SheetLifetime)),
		WACC:         inputs.TechTableFrom(sheet(SheetWACC)),
		StartupCosts: inputs.TechTableFrom(sheet(SheetStartupCost)),
		FOM:          inputs.YearTableFrom(sheet(SheetFOM)),
		FuelCosts:    inputs.YearTableFrom(sheet(SheetFuelCost)),
		CapitalCosts: inputs.YearTableFrom(sheet(SheetCapitalCost)),

		GeneratorPipeline: inputs.ParsePipeline(sheet(SheetPipelineGenerators)),
		StoragePipeline:   inputs.ParsePipeline(sheet(SheetPipelineStorage)),

		Demand:     inputs.ParseDemand(sheet(SheetDemand)),
		PMaxPU:     inputs.ParseProfiles(sheet(SheetPMaxPU)),
		PMinPU:     inputs.ParseProfiles(sheet(SheetPMinPU)),
		CustomDays: inputs.ParseCustomDays(sheet(SheetCustomDays)),
	}

	if err := in.Validate(); err != nil {
		return nil, &expansion.ConfigError{Field: "Workbook", Message: err.Error()}
	}

	names := make([]string, 0, len(in.SettingsTables))
	for name := range in.SettingsTables {
		names = append(names, name)
	}
	sort.Strings(names)
	logger.Printf("Loaded workbook: %d buses, %d+%d generators, %d+%d storage, %d links, demand years %v, settings tables %v",
		len(in.Buses), len(in.BaseGenerators), len(in.NewGenerators), len(in.BaseStorage), len(in.NewStorage),
		len(in.Links), in.DemandYears(), names)
	return in, nil
}
