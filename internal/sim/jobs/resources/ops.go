package resources

import (
	"errors"
	"fmt"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
	"colonysim.ai/internal/sim/world/logic/mathx"
)

var (
	ErrNoPath     = errors.New("resources: no path")
	ErrNoPosition = errors.New("resources: entity has no position")
)

// Ops bundles the resource and movement helpers. It holds no per-job state.
type Ops struct {
	Store     store.Store
	Map       grid.Map
	Resources catalogs.ResourceCatalog
	Capacity  jobs.Capacity
}

// MoveToward reports whether the agent stands on goal. Otherwise it makes
// sure the agent's move path leads to goal, computing a new one when needed.
// ErrNoPath means goal is unreachable.
func (o *Ops) MoveToward(agentID store.EntityID, a *jobs.Agent, goal grid.Vec3i) (bool, error) {
	pos, ok, err := jobs.PositionOf(o.Store, agentID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("agent %d: %w", agentID, ErrNoPosition)
	}
	if sameCell(pos, goal) {
		a.MovePath = nil
		return true, nil
	}
	if n := len(a.MovePath); n > 0 && sameCell(a.MovePath[n-1], goal) && o.Map.Passable(a.MovePath[0]) {
		return false, nil
	}
	path, ok := o.Map.FindPath(pos, goal)
	if !ok {
		a.MovePath = nil
		return false, fmt.Errorf("%v -> %v: %w", pos, goal, ErrNoPath)
	}
	a.MovePath = path.Cells
	return false, nil
}

// PlanPickup computes what the agent should take from the reserved
// stockpile, requirement by requirement, under its capacity.
func (o *Ops) PlanPickup(a jobs.Agent, job jobs.Job, sp jobs.Stockpile) []jobs.ResourceAmount {
	capacity := EffectiveCapacity(a, o.Capacity)
	carried := cloneAmounts(a.CarriedResources)
	var plan []jobs.ResourceAmount
	for _, req := range job.ResourceRequirements {
		remaining := job.Remaining(req.Kind) - jobs.AmountOf(carried, req.Kind)
		available := mathx.MinInt(sp.Resources[req.Kind], jobs.AmountOf(job.ReservedResources, req.Kind))
		n := PickupQuantity(req.Kind, remaining, available, carried, capacity, o.Resources)
		if n <= 0 {
			continue
		}
		plan = append(plan, jobs.ResourceAmount{Kind: req.Kind, Amount: n})
		carried = jobs.AddAmount(carried, req.Kind, n)
	}
	return plan
}

// ApplyPickup moves plan from the stockpile into the agent's carry buffer
// and consumes the matching reservation.
func (o *Ops) ApplyPickup(a *jobs.Agent, job *jobs.Job, spID store.EntityID, sp *jobs.Stockpile, plan []jobs.ResourceAmount) error {
	for _, r := range plan {
		if sp.Resources[r.Kind] < r.Amount {
			return fmt.Errorf("stockpile %d: %s short by %d", spID, r.Kind, r.Amount-sp.Resources[r.Kind])
		}
	}
	for _, r := range plan {
		sp.Resources[r.Kind] -= r.Amount
		sp.Reserved[r.Kind] -= r.Amount
		job.ReservedResources = jobs.AddAmount(job.ReservedResources, r.Kind, -r.Amount)
		a.CarriedResources = jobs.AddAmount(a.CarriedResources, r.Kind, r.Amount)
	}
	return jobs.SaveStockpile(o.Store, spID, *sp)
}

// Deliver merges carried resources into the job's delivered accumulator,
// never past the requirement. Any excess is returned and stays out of the job.
func (o *Ops) Deliver(a *jobs.Agent, job *jobs.Job) []jobs.ResourceAmount {
	var excess []jobs.ResourceAmount
	for _, r := range a.CarriedResources {
		if r.Amount <= 0 {
			continue
		}
		take := mathx.MinInt(r.Amount, job.Remaining(r.Kind))
		if take > 0 {
			job.DeliveredResources = jobs.AddAmount(job.DeliveredResources, r.Kind, take)
		}
		if r.Amount > take {
			excess = append(excess, jobs.ResourceAmount{Kind: r.Kind, Amount: r.Amount - take})
		}
	}
	a.CarriedResources = nil
	return excess
}

// DropCarried spawns freestanding items for everything the agent carries at
// its current cell and clears the carry buffer.
func (o *Ops) DropCarried(agentID store.EntityID, a *jobs.Agent) error {
	if err := o.DropAt(agentID, a.CarriedResources); err != nil {
		return err
	}
	a.CarriedResources = nil
	return nil
}

// DropAt spawns items for amounts at the cell of entity at.
func (o *Ops) DropAt(at store.EntityID, amounts []jobs.ResourceAmount) error {
	if !hasAmounts(amounts) {
		return nil
	}
	pos, ok, err := jobs.PositionOf(o.Store, at)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("drop at %d: %w", at, ErrNoPosition)
	}
	for _, r := range amounts {
		if r.Amount <= 0 {
			continue
		}
		id := o.Store.Spawn()
		if err := store.Save(o.Store, id, jobs.ComponentItem, jobs.Item{Kind: r.Kind, Amount: r.Amount}); err != nil {
			return err
		}
		if err := jobs.SetPosition(o.Store, id, pos); err != nil {
			return err
		}
	}
	return nil
}

// Reserve secures the job's outstanding requirements at one stockpile that
// can cover all of them, preferring the one nearest the job's target, then
// the lowest id. It reports whether a reservation was made.
func (o *Ops) Reserve(job *jobs.Job) (bool, error) {
	if !job.HasRequirements() || job.HasReservation() {
		return false, nil
	}
	var need []jobs.ResourceAmount
	for _, r := range job.ResourceRequirements {
		if n := job.Remaining(r.Kind); n > 0 {
			need = jobs.AddAmount(need, r.Kind, n)
		}
	}
	if len(need) == 0 {
		return false, nil
	}
	if err := o.ReleaseReservation(job); err != nil {
		return false, err
	}

	var (
		bestID   store.EntityID
		bestSP   jobs.Stockpile
		bestDist = -1
	)
	for _, id := range o.Store.With(jobs.ComponentStockpile) {
		sp, err := jobs.LoadStockpile(o.Store, id)
		if err != nil {
			return false, err
		}
		covers := true
		for _, r := range need {
			if sp.Available(r.Kind) < r.Amount {
				covers = false
				break
			}
		}
		if !covers {
			continue
		}
		dist := 0
		if job.TargetPosition != nil {
			if pos, ok, err := jobs.PositionOf(o.Store, id); err == nil && ok {
				dist = mathx.AbsInt(pos.X-job.TargetPosition.X) + mathx.AbsInt(pos.Z-job.TargetPosition.Z)
			}
		}
		if bestDist < 0 || dist < bestDist {
			bestID, bestSP, bestDist = id, sp, dist
		}
	}
	if bestID == 0 {
		return false, nil
	}
	for _, r := range need {
		bestSP.Reserved[r.Kind] += r.Amount
	}
	if err := jobs.SaveStockpile(o.Store, bestID, bestSP); err != nil {
		return false, err
	}
	job.ReservedStockpile = bestID
	job.ReservedResources = need
	return true, nil
}

// ReleaseReservation returns the unconsumed part of the job's reservation.
func (o *Ops) ReleaseReservation(job *jobs.Job) error {
	if job.ReservedStockpile == 0 {
		return nil
	}
	if o.Store.Exists(job.ReservedStockpile) {
		sp, err := jobs.LoadStockpile(o.Store, job.ReservedStockpile)
		if err != nil {
			return err
		}
		for _, r := range job.ReservedResources {
			sp.Reserved[r.Kind] -= r.Amount
		}
		if err := jobs.SaveStockpile(o.Store, job.ReservedStockpile, sp); err != nil {
			return err
		}
	}
	job.ReservedStockpile = 0
	job.ReservedResources = nil
	return nil
}

func sameCell(a, b grid.Vec3i) bool {
	return a.X == b.X && a.Z == b.Z
}

func hasAmounts(list []jobs.ResourceAmount) bool {
	for _, r := range list {
		if r.Amount > 0 {
			return true
		}
	}
	return false
}

func cloneAmounts(list []jobs.ResourceAmount) []jobs.ResourceAmount {
	return append([]jobs.ResourceAmount(nil), list...)
}
