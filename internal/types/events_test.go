package types

import (
	"testing"
	"time"

	"github.com/chrissnell/drynomore/internal/protocol"
)

func TestStatusEventFlattening(t *testing.T) {
	st := protocol.NewStatus()
	st.NumPlants = 2
	st.NumWaterSensors = 1
	st.BeforeMoisture[1] = 20
	st.AfterMoisture[1] = 55
	st.AfterWater[0] = 70

	ev := StatusEvent("10.0.0.5", time.Unix(100, 0), st)
	plants := ev.PlantReadings()
	if len(plants) != 2 {
		t.Fatalf("plant rows = %d, want 2", len(plants))
	}
	if plants[1].Plant != 2 || plants[1].AfterMoisture != 55 || !plants[1].Watered() {
		t.Errorf("plant row = %+v", plants[1])
	}
	if plants[0].Watered() {
		t.Error("unmeasured plant reported as watered")
	}
	water := ev.WaterReadings()
	if len(water) != 1 || water[0].After != 70 || water[0].Channel != 1 {
		t.Errorf("water rows = %+v", water)
	}

	alert := AlertEvent(Alert{Tag: protocol.TagWarn, Text: "x"})
	if alert.PlantReadings() != nil || alert.WaterReadings() != nil {
		t.Error("alert event produced readings")
	}
	if alert.Alert.Level() != "warn" {
		t.Errorf("level = %q", alert.Alert.Level())
	}
}
