package protocol

import (
	"strconv"
	"strings"
)

// PlantSet is a set of plant indices stored as a bitmask, bit i standing for
// plant i. It is used for the skip flags and the water channel mapping.
type PlantSet uint8

// Has reports whether plant i is in the set. Out of range indices are never
// members.
func (p PlantSet) Has(i int) bool {
	if i < 0 || i >= MaxPlants {
		return false
	}
	return uint8(p)&(1<<uint(i)) != 0
}

// Set adds or removes plant i.
func (p *PlantSet) Set(i int, member bool) {
	if i < 0 || i >= MaxPlants {
		return
	}
	if member {
		*p = PlantSet(uint8(*p) | 1<<uint(i))
	} else {
		*p = PlantSet(uint8(*p) &^ (1 << uint(i)))
	}
}

// Toggle flips membership of plant i.
func (p *PlantSet) Toggle(i int) {
	p.Set(i, !p.Has(i))
}

// List returns the members in ascending order.
func (p PlantSet) List() []int {
	var out []int
	for i := 0; i < MaxPlants; i++ {
		if p.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// Bools expands the set into one flag per plant.
func (p PlantSet) Bools() []bool {
	out := make([]bool, MaxPlants)
	for i := range out {
		out[i] = p.Has(i)
	}
	return out
}

// PlantSetFromBools is the inverse of Bools. Extra entries are ignored.
func PlantSetFromBools(flags []bool) PlantSet {
	var p PlantSet
	for i, f := range flags {
		p.Set(i, f)
	}
	return p
}

// String renders 1-based plant labels, e.g. "P1,P3".
func (p PlantSet) String() string {
	members := p.List()
	if len(members) == 0 {
		return "none"
	}
	labels := make([]string, len(members))
	for i, m := range members {
		labels[i] = "P" + strconv.Itoa(m+1)
	}
	return strings.Join(labels, ",")
}
