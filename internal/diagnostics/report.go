package diagnostics

import (
	"encoding/json"
	"time"

	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/rewrite"
	"github.com/Rorqualx/darkmode-go/internal/settings"
)

// SiteInfo describes the page.
type SiteInfo struct {
	URL                 string      `json:"url"`
	Domain              string      `json:"domain"`
	Title               string      `json:"title"`
	Theme               Theme       `json:"theme"`
	ShadowDOMCount      int         `json:"shadowDOMCount"`
	IframeCount         int         `json:"iframeCount"`
	CustomStylesCount   int         `json:"customStylesCount"`
	ForcedElementsCount int         `json:"forcedElementsCount"`
	ProblematicSite     bool        `json:"problematicSite"`
	ScreenWidth         int         `json:"screenWidth"`
	ScreenHeight        int         `json:"screenHeight"`
	DeviceInfo          device.Info `json:"deviceInfo"`
}

// CurrentState is the controller state at report time.
type CurrentState struct {
	DarkModeEnabled     bool              `json:"darkModeEnabled"`
	ExtremeModeActive   bool              `json:"extremeModeActive"`
	ForcedElementsCount int               `json:"forcedElementsCount"`
	CustomStylesCount   int               `json:"customStylesCount"`
	ShadowRootsCount    int               `json:"shadowRootsCount"`
	DeviceInfo          device.Info       `json:"deviceInfo"`
	PerformanceMode     device.Tier       `json:"performanceMode"`
	CurrentSiteSettings *settings.PerSite `json:"currentSiteSettings"`
}

// Report is the diagnostic report.
type Report struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	Settings     map[string]any `json:"settings"`
	SiteInfo     SiteInfo       `json:"siteInfo"`
	Issues       []Issue        `json:"issues"`
	CurrentState CurrentState   `json:"currentState"`
}

// Input is everything a report is built from.
type Input struct {
	Now             time.Time
	Settings        settings.Global
	URL             string
	Domain          string
	Title           string
	Theme           Theme
	Iframes         int
	Engine          rewrite.Stats
	ProblematicSite bool
	Device          device.Info
	Tier            device.Tier
	Dark            bool
	Extreme         bool
	PerSite         *settings.PerSite
	Issues          []Issue
}

// Build assembles a report. The keyboard shortcut is left out of the
// settings copy.
func Build(in Input) (Report, error) {
	raw, err := json.Marshal(in.Settings)
	if err != nil {
		return Report{}, err
	}
	var s map[string]any
	if err := json.Unmarshal(raw, &s); err != nil {
		return Report{}, err
	}
	delete(s, "keyboardShortcut")

	issues := in.Issues
	if issues == nil {
		issues = []Issue{}
	}

	return Report{
		Timestamp: in.Now.UTC(),
		Version:   settings.ExportVersion,
		Settings:  s,
		SiteInfo: SiteInfo{
			URL:                 in.URL,
			Domain:              in.Domain,
			Title:               in.Title,
			Theme:               in.Theme,
			ShadowDOMCount:      in.Engine.ShadowRoots,
			IframeCount:         in.Iframes,
			CustomStylesCount:   in.Engine.Styles,
			ForcedElementsCount: in.Engine.Forced,
			ProblematicSite:     in.ProblematicSite,
			ScreenWidth:         in.Device.InnerWidth,
			ScreenHeight:        in.Device.InnerHeight,
			DeviceInfo:          in.Device,
		},
		Issues: issues,
		CurrentState: CurrentState{
			DarkModeEnabled:     in.Dark,
			ExtremeModeActive:   in.Extreme,
			ForcedElementsCount: in.Engine.Forced,
			CustomStylesCount:   in.Engine.Styles,
			ShadowRootsCount:    in.Engine.ShadowRoots,
			DeviceInfo:          in.Device,
			PerformanceMode:     in.Tier,
			CurrentSiteSettings: in.PerSite,
		},
	}, nil
}

// JSON renders the report as indented JSON.
func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
