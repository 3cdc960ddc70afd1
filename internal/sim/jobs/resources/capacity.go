package resources

import (
	"math"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/world/logic/mathx"
)

const unlimited = math.MaxInt32

// EffectiveCapacity fills zero capacity fields of a from def.
func EffectiveCapacity(a jobs.Agent, def jobs.Capacity) jobs.Capacity {
	c := def
	if a.Capacity != nil {
		if a.Capacity.MaxWeight > 0 {
			c.MaxWeight = a.Capacity.MaxWeight
		}
		if a.Capacity.MaxVolume > 0 {
			c.MaxVolume = a.Capacity.MaxVolume
		}
		if a.Capacity.MaxSlots > 0 {
			c.MaxSlots = a.Capacity.MaxSlots
		}
	}
	return c
}

// Load is the weight, volume and slot usage of a carry buffer.
type Load struct {
	Weight float64
	Volume float64
	Slots  int
}

func CarriedLoad(carried []jobs.ResourceAmount, cat catalogs.ResourceCatalog) Load {
	var l Load
	for _, r := range carried {
		if r.Amount <= 0 {
			continue
		}
		d := cat.Def(r.Kind)
		l.Weight += float64(r.Amount) * d.Weight
		l.Volume += float64(r.Amount) * d.Volume
		l.Slots += stacks(r.Amount, d.StackSize)
	}
	return l
}

// CapacityFor is how many more units of kind fit given what is carried:
// min(by weight, by volume, by slots).
func CapacityFor(kind string, carried []jobs.ResourceAmount, capacity jobs.Capacity, cat catalogs.ResourceCatalog) int {
	d := cat.Def(kind)
	l := CarriedLoad(carried, cat)

	byWeight := unlimited
	if d.Weight > 0 && capacity.MaxWeight > 0 {
		byWeight = int(math.Floor((capacity.MaxWeight - l.Weight) / d.Weight))
	}
	byVolume := unlimited
	if d.Volume > 0 && capacity.MaxVolume > 0 {
		byVolume = int(math.Floor((capacity.MaxVolume - l.Volume) / d.Volume))
	}
	bySlots := unlimited
	if capacity.MaxSlots > 0 {
		have := jobs.AmountOf(carried, kind)
		partial := stacks(have, d.StackSize)*d.StackSize - have
		free := capacity.MaxSlots - l.Slots
		if free < 0 {
			free = 0
		}
		bySlots = partial + free*d.StackSize
	}
	n := mathx.MinInt(byWeight, byVolume, bySlots)
	if n < 0 {
		return 0
	}
	return n
}

// PickupQuantity is min(remaining, available, capacity for kind).
func PickupQuantity(kind string, remaining, available int, carried []jobs.ResourceAmount, capacity jobs.Capacity, cat catalogs.ResourceCatalog) int {
	n := mathx.MinInt(remaining, available, CapacityFor(kind, carried, capacity, cat))
	if n < 0 {
		return 0
	}
	return n
}

func stacks(amount, stackSize int) int {
	if amount <= 0 {
		return 0
	}
	if stackSize <= 0 {
		stackSize = 1
	}
	return (amount + stackSize - 1) / stackSize
}
