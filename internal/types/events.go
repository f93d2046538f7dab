// Package types holds the records that flow from the supervisor listener to
// the history storage engines and the notification loop.
package types

import (
	"time"

	"github.com/chrissnell/drynomore/internal/protocol"
)

// EventKind distinguishes history events.
type EventKind string

const (
	EventStatus EventKind = "status"
	EventAlert  EventKind = "alert"
)

// Alert is a text message reported by a node.
type Alert struct {
	Timestamp time.Time    `gorm:"column:time" json:"timestamp"`
	Node      string       `gorm:"column:node" json:"node"`
	Tag       protocol.Tag `gorm:"column:tag" json:"tag"`
	Text      string       `gorm:"column:text" json:"text"`
}

// Level is the lower-case name of the alert tag.
func (a Alert) Level() string {
	return a.Tag.String()
}

// PlantReading is one plant's row of an accepted status report.
type PlantReading struct {
	Timestamp            time.Time `gorm:"column:time" json:"timestamp"`
	Node                 string    `gorm:"column:node" json:"node"`
	Plant                int       `gorm:"column:plant" json:"plant"`
	TicksSinceIrrigation uint8     `gorm:"column:ticks" json:"ticks_since_irrigation"`
	BeforeMoisture       uint8     `gorm:"column:before_moisture" json:"before_moisture"`
	AfterMoisture        uint8     `gorm:"column:after_moisture" json:"after_moisture"`
	BeforeMoistureRaw    uint16    `gorm:"column:before_moisture_raw" json:"before_moisture_raw"`
	AfterMoistureRaw     uint16    `gorm:"column:after_moisture_raw" json:"after_moisture_raw"`
}

// Watered reports whether the plant was measured in its cycle.
func (p PlantReading) Watered() bool {
	return p.AfterMoisture != protocol.UndefinedLevel
}

// WaterReading is one reservoir's row of an accepted status report.
type WaterReading struct {
	Timestamp time.Time `gorm:"column:time" json:"timestamp"`
	Node      string    `gorm:"column:node" json:"node"`
	Channel   int       `gorm:"column:channel" json:"channel"`
	Before    uint8     `gorm:"column:before_level" json:"before"`
	After     uint8     `gorm:"column:after_level" json:"after"`
	BeforeRaw uint16    `gorm:"column:before_raw" json:"before_raw"`
	AfterRaw  uint16    `gorm:"column:after_raw" json:"after_raw"`
}

// Event is handed from the listener to the storage manager.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Node      string
	Status    protocol.Status
	Alert     Alert
}

// PlantReadings flattens a status event into one row per active plant.
func (e Event) PlantReadings() []PlantReading {
	if e.Kind != EventStatus {
		return nil
	}
	st := e.Status
	out := make([]PlantReading, 0, st.ActivePlants())
	for i := 0; i < st.ActivePlants(); i++ {
		out = append(out, PlantReading{
			Timestamp:            e.Timestamp,
			Node:                 e.Node,
			Plant:                i + 1,
			TicksSinceIrrigation: st.TicksSinceIrrigation[i],
			BeforeMoisture:       st.BeforeMoisture[i],
			AfterMoisture:        st.AfterMoisture[i],
			BeforeMoistureRaw:    st.BeforeMoistureRaw[i],
			AfterMoistureRaw:     st.AfterMoistureRaw[i],
		})
	}
	return out
}

// WaterReadings flattens a status event into one row per used reservoir.
func (e Event) WaterReadings() []WaterReading {
	if e.Kind != EventStatus {
		return nil
	}
	st := e.Status
	out := make([]WaterReading, 0, st.ActiveWaterSensors())
	for i := 0; i < st.ActiveWaterSensors(); i++ {
		out = append(out, WaterReading{
			Timestamp: e.Timestamp,
			Node:      e.Node,
			Channel:   i + 1,
			Before:    st.BeforeWater[i],
			After:     st.AfterWater[i],
			BeforeRaw: st.BeforeWaterRaw[i],
			AfterRaw:  st.AfterWaterRaw[i],
		})
	}
	return out
}

// StatusEvent wraps an accepted status report.
func StatusEvent(node string, at time.Time, st protocol.Status) Event {
	return Event{Kind: EventStatus, Timestamp: at, Node: node, Status: st}
}

// AlertEvent wraps a received alert.
func AlertEvent(a Alert) Event {
	return Event{Kind: EventAlert, Timestamp: a.Timestamp, Node: a.Node, Alert: a}
}
