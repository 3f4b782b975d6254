// Package service contains the session and catalogue logic behind the
// choropleth API.
package service

import (
	"github.com/joeblew999/plat-choropleth/internal/mapview"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

// SessionInfo is the REST view of a viewer session.
type SessionInfo struct {
	ID         string                 `json:"id" doc:"Session identifier" example:"3f2b8c1e-7d4a-4c5e-9a61-0b7f2d9e4c10"`
	Stage      string                 `json:"stage" doc:"Renderer lifecycle stage" enum:"created,style-loading,ready"`
	Loading    bool                   `json:"loading" doc:"Whether the renderer has yet to draw"`
	Date       string                 `json:"date,omitempty" doc:"Active date filter" example:"2020-11-20"`
	Viewport   mapview.Viewport       `json:"viewport" doc:"Camera as last reported"`
	ActiveTier string                 `json:"activeTier" doc:"Tier the current zoom resolves to" example:"utla"`
	Selection  mapview.SelectionState `json:"selection" doc:"Selected and highlighted feature"`
	Overlay    mapview.Overlay        `json:"overlay" doc:"Info panel state"`
	Legend     tier.Legend            `json:"legend" doc:"Legend of the active tier"`
	View       mapview.View           `json:"view" doc:"Initial camera and zoom limits"`
}

// EventInput is a renderer lifecycle event posted by the browser.
type EventInput struct {
	Type     string             `json:"type" enum:"load,styledata,zoom,click,render" doc:"Renderer event"`
	Zoom     *float64           `json:"zoom,omitempty" doc:"Zoom level (required for zoom events)"`
	Center   []float64          `json:"center,omitempty" minItems:"2" maxItems:"2" doc:"Camera center [lon, lat] (zoom events)"`
	Layer    string             `json:"layer,omitempty" doc:"Clicked layer id (click events)" example:"utla-click"`
	Click    mapview.ClickEvent `json:"click,omitempty" doc:"Click payload (click events)"`
}
