// Package dataapi talks to the remote epidemiological data service: postcode
// geocoding, area names, region weekly aggregates and neighbourhood series.
package dataapi

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// ErrNotFound matches every LookupNotFoundError.
var ErrNotFound = errors.New("lookup returned no match")

// LookupNotFoundError reports a lookup that succeeded but matched nothing.
type LookupNotFoundError struct {
	Kind string // postcode, area-name, region, series
	Key  string
}

func (e *LookupNotFoundError) Error() string {
	return fmt.Sprintf("%s %q: not found", e.Kind, e.Key)
}

func (e *LookupNotFoundError) Is(target error) bool { return target == ErrNotFound }

// Location is a resolved postcode.
type Location struct {
	Point orb.Point
	Raw   map[string]any
}

// WeeklyRecord is one seven-day aggregate. Nil fields were absent or
// suppressed in the response.
type WeeklyRecord struct {
	Date             string   `json:"date"`
	AreaName         string   `json:"areaName,omitempty"`
	AreaType         string   `json:"areaType,omitempty"`
	NewCases         *int     `json:"newCases,omitempty"`
	RollingRate      *float64 `json:"rollingRate,omitempty"`
	RollingSum       *int     `json:"rollingSum,omitempty"`
	Change           *int     `json:"change,omitempty"`
	Direction        string   `json:"direction,omitempty"`
	ChangePercentage *float64 `json:"changePercentage,omitempty"`
}

// Wire shapes.

type postcodeResponse struct {
	Geometry *struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	MsoaName string `json:"msoaName"`
}

type regionRecord struct {
	Date        string   `json:"date"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Value       *int     `json:"value"`
	RollingRate *float64 `json:"rollingRate"`
	RollingSum  *int     `json:"rollingSum"`
	Change      *int     `json:"change"`
	Direction   string   `json:"direction"`
	Percentage  *float64 `json:"percentage"`
}

type regionResponse struct {
	Data []regionRecord `json:"data"`
}

type soaRecord struct {
	Date             string   `json:"date"`
	RollingSum       *int     `json:"rollingSum"`
	RollingRate      *float64 `json:"rollingRate"`
	Change           *int     `json:"change"`
	Direction        string   `json:"direction"`
	ChangePercentage *float64 `json:"changePercentage"`
}

type soaResponse struct {
	AreaCode               string      `json:"areaCode"`
	Release                string      `json:"release"`
	NewCasesBySpecimenDate []soaRecord `json:"newCasesBySpecimenDate"`
}

const regionStructure = `{"date":"date","name":"areaName","type":"areaType",` +
	`"value":"newCasesBySpecimenDate",` +
	`"rollingRate":"newCasesBySpecimenDateRollingRate",` +
	`"rollingSum":"newCasesBySpecimenDateRollingSum",` +
	`"change":"newCasesBySpecimenDateChange",` +
	`"direction":"newCasesBySpecimenDateDirection",` +
	`"percentage":"newCasesBySpecimenDateChangePercentage"}`

const soaStructure = `{"areaCode":"areaCode","release":"release",` +
	`"newCasesBySpecimenDate":[{"date":"date","rollingSum":"rollingSum",` +
	`"rollingRate":"rollingRate","change":"change","direction":"direction",` +
	`"changePercentage":"changePercentage"}]}`
