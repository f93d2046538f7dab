// Package render formats Settings and Status records as plain text tables for
// notifications and the management API.
package render

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chrissnell/drynomore/internal/protocol"
)

const undefined = "--"

func level(v uint8) string {
	if v == protocol.UndefinedLevel {
		return undefined + " %"
	}
	return fmt.Sprintf("%d %%", v)
}

func raw(v uint16) string {
	if v == protocol.UndefinedRaw {
		return undefined
	}
	return humanize.Comma(int64(v))
}

func table(b *strings.Builder, title string, header []string, rows [][]string) {
	b.WriteString(title)
	b.WriteString(":\n")
	w := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	w.Flush()
}

// StatusTable renders a status report. Unmeasured levels print as "--".
// When at is non-zero a "reported ... ago" line relative to now is added.
func StatusTable(st protocol.Status, at, now time.Time) string {
	var b strings.Builder
	if !at.IsZero() {
		fmt.Fprintf(&b, "Reported %s\n", humanize.RelTime(at, now, "ago", "from now"))
	}

	plants := make([][]string, 0, st.ActivePlants())
	for i := 0; i < st.ActivePlants(); i++ {
		plants = append(plants, []string{
			fmt.Sprintf("P%d", i+1),
			level(st.BeforeMoisture[i]),
			level(st.AfterMoisture[i]),
			raw(st.BeforeMoistureRaw[i]),
			raw(st.AfterMoistureRaw[i]),
			fmt.Sprint(st.TicksSinceIrrigation[i]),
		})
	}
	table(&b, "Plant Status", []string{"ID", "Before", "After", "Raw Before", "Raw After", "Ticks"}, plants)

	water := make([][]string, 0, st.ActiveWaterSensors())
	for i := 0; i < st.ActiveWaterSensors(); i++ {
		water = append(water, []string{
			fmt.Sprintf("W%d", i+1),
			level(st.BeforeWater[i]),
			level(st.AfterWater[i]),
		})
	}
	table(&b, "Water-level Status", []string{"ID", "Before", "After"}, water)
	return b.String()
}

// SettingsTable renders the configuration of the active plants and both
// water sensors.
func SettingsTable(set protocol.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hardware Failure: %t\n", set.HardwareFailure)
	fmt.Fprintf(&b, "Debug: %t\n", set.Debug)

	plants := make([][]string, 0, set.ActivePlants())
	for i := 0; i < int(set.ActivePlants()); i++ {
		r := set.MoistureRange(i)
		skip := "no"
		if set.Skip.Has(i) {
			skip = "yes"
		}
		plants = append(plants, []string{
			fmt.Sprintf("P%d", i+1),
			fmt.Sprint(r.MinRaw),
			fmt.Sprint(r.MaxRaw),
			fmt.Sprintf("%d %%", set.TargetMoisture[i]),
			fmt.Sprintf("W%d", set.WaterChannel(i)+1),
			skip,
			fmt.Sprintf("%ds x%d / %ds", set.BurstDuration[i], set.MaxBursts[i], set.BurstDelay[i]),
			fmt.Sprint(set.TicksBetweenIrrigation[i]),
		})
	}
	table(&b, "Moisture Sensor Settings",
		[]string{"ID", "Min", "Max", "Goal", "Water", "Skip", "Bursts", "Ticks"}, plants)

	water := make([][]string, 0, protocol.WaterChannels)
	for i := 0; i < protocol.WaterChannels; i++ {
		r := set.WaterRange(i)
		t := set.WaterThresholds[i]
		water = append(water, []string{
			fmt.Sprintf("W%d", i+1),
			fmt.Sprint(r.MinRaw),
			fmt.Sprint(r.MaxRaw),
			fmt.Sprintf("%d %%", t.WarnPercent),
			fmt.Sprintf("%d %%", t.EmptyPercent),
		})
	}
	table(&b, "Water-level Sensor Settings", []string{"ID", "Min", "Max", "Warn", "Empty"}, water)
	return b.String()
}
