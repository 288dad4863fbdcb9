package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Resource names a catalog list served by the backend.
type Resource string

// Catalog resources.
const (
	ResourceControllers       Resource = "controllers"
	ResourceTurnouts          Resource = "turnouts"
	ResourceDevices           Resource = "devices"
	ResourceEntities          Resource = "entities"
	ResourceBlockDetectors    Resource = "block_detectors"
	ResourcePoints            Resource = "points"
	ResourcePowerSwitches     Resource = "power_switches"
	ResourceSignals           Resource = "signals"
	ResourceSignalAutomations Resource = "signal_automations"
	ResourceTrains            Resource = "trains"
	ResourceTrainControllers  Resource = "train_controllers"
)

var allResources = []Resource{
	ResourceControllers,
	ResourceTurnouts,
	ResourceDevices,
	ResourceEntities,
	ResourceBlockDetectors,
	ResourcePoints,
	ResourcePowerSwitches,
	ResourceSignals,
	ResourceSignalAutomations,
	ResourceTrains,
	ResourceTrainControllers,
}

// AllResources returns every catalog resource in a stable order.
func AllResources() []Resource {
	out := make([]Resource, len(allResources))
	copy(out, allResources)
	return out
}

// ParseResource accepts either the underscore name or the hyphenated URL form.
func ParseResource(s string) (Resource, error) {
	r := Resource(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range allResources {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
}

// Path is the URL segment the backend routes the resource under,
// e.g. "block-detectors".
func (r Resource) Path() string {
	return strings.ReplaceAll(string(r), "_", "-")
}

// Kind returns the live-state kind backed by this resource, if any.
func (r Resource) Kind() (Kind, bool) {
	switch r {
	case ResourcePoints:
		return KindPoints, true
	case ResourcePowerSwitches:
		return KindPowerSwitch, true
	case ResourceBlockDetectors:
		return KindBlockDetector, true
	case ResourceSignals:
		return KindSignal, true
	case ResourceTrains:
		return KindTrain, true
	default:
		return "", false
	}
}

// Kind is a device kind that carries live state.
type Kind string

// Device kinds. The string values match the "type" field used on the channel.
const (
	KindPoints        Kind = "points"
	KindPowerSwitch   Kind = "power_switch"
	KindBlockDetector Kind = "block_detector"
	KindSignal        Kind = "signal"
	KindTrain         Kind = "train"
)

// Kinds lists every device kind in a stable order.
var Kinds = []Kind{KindPoints, KindPowerSwitch, KindBlockDetector, KindSignal, KindTrain}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Resource returns the catalog resource holding records of this kind.
func (k Kind) Resource() Resource {
	switch k {
	case KindPoints:
		return ResourcePoints
	case KindPowerSwitch:
		return ResourcePowerSwitches
	case KindBlockDetector:
		return ResourceBlockDetectors
	case KindSignal:
		return ResourceSignals
	case KindTrain:
		return ResourceTrains
	default:
		return ""
	}
}

// Device is a physical unit on the layout.
type Device struct {
	ID         int            `json:"id"`
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Entities   []int          `json:"entities,omitempty"`
}

// Entity is an addressable control or observation point of a Device.
// At most one of the specialized links is set, selected by DeviceClass.
type Entity struct {
	ID           int            `json:"id"`
	ExternalID   string         `json:"external_id"`
	DeviceID     int            `json:"device_id"`
	Name         string         `json:"name"`
	DeviceClass  string         `json:"device_class"`
	StateTopic   string         `json:"state_topic"`
	CommandTopic string         `json:"command_topic"`
	Attrs        map[string]any `json:"attrs,omitempty"`

	BlockDetector *int `json:"block_detector,omitempty"`
	Points        *int `json:"points,omitempty"`
	PowerSwitch   *int `json:"power_switch,omitempty"`
	Signal        *int `json:"signal,omitempty"`
	Train         *int `json:"train,omitempty"`
}

// Kind reports which specialized record the entity links to.
func (e Entity) Kind() (Kind, int, bool) {
	switch {
	case e.Points != nil:
		return KindPoints, *e.Points, true
	case e.PowerSwitch != nil:
		return KindPowerSwitch, *e.PowerSwitch, true
	case e.BlockDetector != nil:
		return KindBlockDetector, *e.BlockDetector, true
	case e.Signal != nil:
		return KindSignal, *e.Signal, true
	case e.Train != nil:
		return KindTrain, *e.Train, true
	default:
		return "", 0, false
	}
}

// BlockDetector reports track occupancy for a block.
type BlockDetector struct {
	ID                int   `json:"id"`
	EntityID          int   `json:"entity_id"`
	SignalAutomations []int `json:"signal_automations,omitempty"`
}

// Points is a set of track points. ThroughState and DivergeState are the
// raw values the hardware reports for each position.
type Points struct {
	ID           int    `json:"id"`
	EntityID     int    `json:"entity_id"`
	ThroughState string `json:"through_state"`
	DivergeState string `json:"diverge_state"`

	// Interlocking links, all optional.
	ThroughSignal        *int `json:"through_signal,omitempty"`
	DivergeSignal        *int `json:"diverge_signal,omitempty"`
	RootSignal           *int `json:"root_signal,omitempty"`
	ThroughBlockDetector *int `json:"through_block_detector,omitempty"`
	DivergeBlockDetector *int `json:"diverge_block_detector,omitempty"`
	RootBlockDetector    *int `json:"root_block_detector,omitempty"`
}

// PowerSwitch switches track power for a section.
type PowerSwitch struct {
	ID       int `json:"id"`
	EntityID int `json:"entity_id"`
}

// Signal is a lineside signal.
type Signal struct {
	ID       int `json:"id"`
	EntityID int `json:"entity_id"`
}

// Train is a locomotive with a DCC decoder.
type Train struct {
	ID       int     `json:"id"`
	EntityID int     `json:"entity_id"`
	Name     string  `json:"name,omitempty"`
	MaxSpeed float64 `json:"max_speed"`
}

// Controller is a turnout controller board.
type Controller struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseurl"`
	Status  string `json:"status"`
}

// Turnout is a turnout driven by a Controller.
type Turnout struct {
	ID           string         `json:"id"`
	ControllerID string         `json:"controller_id"`
	Name         string         `json:"name"`
	State        string         `json:"state"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// SignalAutomation sets a signal from a block detector and optional points.
type SignalAutomation struct {
	ID            int    `json:"id"`
	Name          string `json:"name,omitempty"`
	Signal        int    `json:"signal"`
	BlockDetector int    `json:"block_detector"`
	Points        *int   `json:"points,omitempty"`
	PointsState   string `json:"points_state"`
}

// TrainController binds a train to a throttle in one of the modes
// direct, combined or separate.
type TrainController struct {
	ID    int    `json:"id"`
	Train int    `json:"train"`
	Name  string `json:"name"`
	Mode  string `json:"mode"`
}

func (d Device) catalogKey() string           { return strconv.Itoa(d.ID) }
func (e Entity) catalogKey() string           { return strconv.Itoa(e.ID) }
func (b BlockDetector) catalogKey() string    { return strconv.Itoa(b.ID) }
func (p Points) catalogKey() string           { return strconv.Itoa(p.ID) }
func (p PowerSwitch) catalogKey() string      { return strconv.Itoa(p.ID) }
func (s Signal) catalogKey() string           { return strconv.Itoa(s.ID) }
func (t Train) catalogKey() string            { return strconv.Itoa(t.ID) }
func (c Controller) catalogKey() string       { return c.ID }
func (t Turnout) catalogKey() string          { return t.ID }
func (s SignalAutomation) catalogKey() string { return strconv.Itoa(s.ID) }
func (t TrainController) catalogKey() string  { return strconv.Itoa(t.ID) }
