package network

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// bound is a float that may be unbounded (+Inf) or unset (NaN). JSON has no
// representation for either, so they travel as "inf" and null.
type bound float64

func (b bound) MarshalJSON() ([]byte, error) {
	v := float64(b)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (b *bound) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch s {
	case "null":
		*b = bound(math.NaN())
		return nil
	case `"inf"`:
		*b = bound(math.Inf(1))
		return nil
	case `"-inf"`:
		*b = bound(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid bound %s: %w", s, err)
	}
	*b = bound(v)
	return nil
}

// MarshalJSON encodes the unbounded and unset fields of a generator.
func (g Generator) MarshalJSON() ([]byte, error) {
	type alias Generator
	return json.Marshal(struct {
		alias
		PNomMax       bound `json:"p_nom_max"`
		RampLimitUp   bound `json:"ramp_limit_up"`
		RampLimitDown bound `json:"ramp_limit_down"`
	}{alias(g), bound(g.PNomMax), bound(g.RampLimitUp), bound(g.RampLimitDown)})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (g *Generator) UnmarshalJSON(data []byte) error {
	type alias Generator
	aux := struct {
		*alias
		PNomMax       bound `json:"p_nom_max"`
		RampLimitUp   bound `json:"ramp_limit_up"`
		RampLimitDown bound `json:"ramp_limit_down"`
	}{alias: (*alias)(g), PNomMax: bound(math.Inf(1)), RampLimitUp: bound(math.NaN()), RampLimitDown: bound(math.NaN())}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	g.PNomMax = float64(aux.PNomMax)
	g.RampLimitUp = float64(aux.RampLimitUp)
	g.RampLimitDown = float64(aux.RampLimitDown)
	return nil
}

func (s StorageUnit) MarshalJSON() ([]byte, error) {
	type alias StorageUnit
	return json.Marshal(struct {
		alias
		PNomMax bound `json:"p_nom_max"`
	}{alias(s), bound(s.PNomMax)})
}

func (s *StorageUnit) UnmarshalJSON(data []byte) error {
	type alias StorageUnit
	aux := struct {
		*alias
		PNomMax bound `json:"p_nom_max"`
	}{alias: (*alias)(s), PNomMax: bound(math.Inf(1))}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.PNomMax = float64(aux.PNomMax)
	return nil
}

func (s Store) MarshalJSON() ([]byte, error) {
	type alias Store
	return json.Marshal(struct {
		alias
		ENomMax bound `json:"e_nom_max"`
	}{alias(s), bound(s.ENomMax)})
}

func (s *Store) UnmarshalJSON(data []byte) error {
	type alias Store
	aux := struct {
		*alias
		ENomMax bound `json:"e_nom_max"`
	}{alias: (*alias)(s), ENomMax: bound(math.Inf(1))}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.ENomMax = float64(aux.ENomMax)
	return nil
}

func (l Link) MarshalJSON() ([]byte, error) {
	type alias Link
	return json.Marshal(struct {
		alias
		PNomMax bound `json:"p_nom_max"`
	}{alias(l), bound(l.PNomMax)})
}

func (l *Link) UnmarshalJSON(data []byte) error {
	type alias Link
	aux := struct {
		*alias
		PNomMax bound `json:"p_nom_max"`
	}{alias: (*alias)(l), PNomMax: bound(math.Inf(1))}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.PNomMax = float64(aux.PNomMax)
	return nil
}
