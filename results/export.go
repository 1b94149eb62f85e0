// Package results writes solved networks to disk and to PostgreSQL.
package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/devskill-org/capacity-planner/network"
	"github.com/devskill-org/capacity-planner/utils"
)

// NetworkFile is the serialized network written next to the tables.
const NetworkFile = "network.json"

type table struct {
	name   string
	header []string
	rows   [][]string
}

// Export writes the component tables, the time series and the serialized
// network of net into dir. The returned file names are relative to dir.
func Export(net *network.Network, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}

	var files []string
	for _, t := range tablesOf(net) {
		if err := writeCSV(filepath.Join(dir, t.name), t.header, t.rows); err != nil {
			return files, err
		}
		files = append(files, t.name)
	}

	if err := WriteNetworkJSON(net, filepath.Join(dir, NetworkFile)); err != nil {
		return files, err
	}
	files = append(files, NetworkFile)
	return files, nil
}

// WriteNetworkJSON serializes net to path.
func WriteNetworkJSON(net *network.Network, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(net); err != nil {
		return fmt.Errorf("failed to encode network: %w", err)
	}
	return nil
}

// ReadNetworkJSON loads a network written by WriteNetworkJSON.
func ReadNetworkJSON(path string) (*network.Network, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open network file: %w", err)
	}
	defer file.Close()

	var net network.Network
	if err := json.NewDecoder(file).Decode(&net); err != nil {
		return nil, fmt.Errorf("failed to decode network file: %w", err)
	}
	return &net, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func tablesOf(net *network.Network) []table {
	out := []table{
		{name: "buses.csv", header: []string{"name", "carrier", "outside", "x", "y"}},
		{name: "carriers.csv", header: []string{"name", "co2_emissions", "color", "nice_name"}},
		{name: "loads.csv", header: []string{"name", "bus"}},
		{name: "generators.csv", header: []string{"name", "bus", "carrier", "p_nom", "p_nom_extendable", "p_nom_min", "p_nom_max", "p_nom_opt",
			"marginal_cost", "capital_cost", "build_year", "lifetime", "committable"}},
		{name: "storage_units.csv", header: []string{"name", "bus", "carrier", "p_nom", "p_nom_extendable", "p_nom_min", "p_nom_max", "p_nom_opt",
			"max_hours", "efficiency_store", "efficiency_dispatch", "standing_loss", "marginal_cost", "capital_cost", "build_year", "lifetime"}},
		{name: "stores.csv", header: []string{"name", "bus", "carrier", "e_nom", "e_nom_extendable", "e_nom_min", "e_nom_max", "e_nom_opt",
			"standing_loss", "marginal_cost", "capital_cost", "build_year", "lifetime"}},
		{name: "links.csv", header: []string{"name", "bus0", "bus1", "carrier", "p_nom", "p_nom_extendable", "p_nom_opt", "efficiency", "mode"}},
	}

	for _, b := range net.Buses {
		out[0].rows = append(out[0].rows, []string{b.Name, b.Carrier, strconv.FormatBool(b.Outside), num(b.X), num(b.Y)})
	}
	for _, c := range net.Carriers {
		out[1].rows = append(out[1].rows, []string{c.Name, num(c.CO2Emissions), c.Color, c.NiceName})
	}
	for _, l := range net.Loads {
		out[2].rows = append(out[2].rows, []string{l.Name, l.Bus})
	}
	for _, g := range net.Generators {
		out[3].rows = append(out[3].rows, []string{g.Name, g.Bus, g.Carrier, num(g.PNom), strconv.FormatBool(g.PNomExtendable),
			num(g.PNomMin), num(g.PNomMax), num(g.PNomOpt), num(g.MarginalCost), num(g.CapitalCost),
			strconv.Itoa(g.BuildYear), num(g.Lifetime), strconv.FormatBool(g.Committable)})
	}
	for _, s := range net.StorageUnits {
		out[4].rows = append(out[4].rows, []string{s.Name, s.Bus, s.Carrier, num(s.PNom), strconv.FormatBool(s.PNomExtendable),
			num(s.PNomMin), num(s.PNomMax), num(s.PNomOpt), num(s.MaxHours), num(s.EfficiencyStore), num(s.EfficiencyDispatch),
			num(s.StandingLoss), num(s.MarginalCost), num(s.CapitalCost), strconv.Itoa(s.BuildYear), num(s.Lifetime)})
	}
	for _, s := range net.Stores {
		out[5].rows = append(out[5].rows, []string{s.Name, s.Bus, s.Carrier, num(s.ENom), strconv.FormatBool(s.ENomExtendable),
			num(s.ENomMin), num(s.ENomMax), num(s.ENomOpt), num(s.StandingLoss), num(s.MarginalCost), num(s.CapitalCost),
			strconv.Itoa(s.BuildYear), num(s.Lifetime)})
	}
	for _, l := range net.Links {
		out[6].rows = append(out[6].rows, []string{l.Name, l.Bus0, l.Bus1, l.Carrier, num(l.PNom), strconv.FormatBool(l.PNomExtendable),
			num(l.PNomOpt), num(l.Efficiency), l.Mode})
	}

	snaps := table{name: "snapshots.csv", header: []string{"snapshot", "weighting"}}
	for t, s := range net.Snapshots {
		snaps.rows = append(snaps.rows, []string{utils.FormatSnapshot(s), num(valueAt(net.Weightings, t))})
	}
	out = append(out, snaps)

	var loadNames, genNames, suNames, storeNames, linkNames []string
	var loadSeries, genSeries, suSeries, storeSeries, linkSeries [][]float64
	for _, l := range net.Loads {
		loadNames, loadSeries = append(loadNames, l.Name), append(loadSeries, l.PSet)
	}
	for _, g := range net.Generators {
		genNames, genSeries = append(genNames, g.Name), append(genSeries, g.P)
	}
	for _, s := range net.StorageUnits {
		p := make([]float64, len(s.PDispatch))
		for t := range p {
			p[t] = s.PDispatch[t] - valueAt(s.PStore, t)
		}
		suNames, suSeries = append(suNames, s.Name), append(suSeries, p)
	}
	for _, s := range net.Stores {
		storeNames, storeSeries = append(storeNames, s.Name), append(storeSeries, s.P)
	}
	for _, l := range net.Links {
		linkNames, linkSeries = append(linkNames, l.Name), append(linkSeries, l.P0)
	}
	out = append(out,
		series("loads_p_set.csv", net.Snapshots, loadNames, loadSeries),
		series("generators_p.csv", net.Snapshots, genNames, genSeries),
		series("storage_units_p.csv", net.Snapshots, suNames, suSeries),
		series("stores_p.csv", net.Snapshots, storeNames, storeSeries),
		series("links_p0.csv", net.Snapshots, linkNames, linkSeries),
	)
	return out
}

// series lays out one column per component, one row per snapshot.
func series(name string, snaps []time.Time, names []string, values [][]float64) table {
	t := table{name: name, header: append([]string{"snapshot"}, names...)}
	for i, s := range snaps {
		row := make([]string, 0, len(names)+1)
		row = append(row, utils.FormatSnapshot(s))
		for _, v := range values {
			row = append(row, num(valueAt(v, i)))
		}
		t.rows = append(t.rows, row)
	}
	return t
}

func valueAt(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
