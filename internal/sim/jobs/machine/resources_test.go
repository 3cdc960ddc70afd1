package machine

import (
	"testing"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
)

var build = catalogs.JobTypeDef{
	Name:         "build",
	Requirements: []catalogs.ResourceAmount{{Kind: "wood", Amount: 10}},
	Duration:     2,
}

func TestStep_FetchesInTwoTripsUnderCapacity(t *testing.T) {
	f := newFixture(t, 6, 2, build)
	agent := f.agent(0, 0, jobs.Agent{Capacity: &jobs.Capacity{MaxWeight: 5}})
	sp := f.stockpile(0, 0, map[string]int{"wood": 20})
	id := f.job(jobs.Template{JobType: "build", TargetPosition: cell(3, 0)})
	f.assign(id, agent)

	deliveries := 0
	for i := 0; i < 60 && f.load(id).State != jobs.StateComplete; i++ {
		before := f.load(id)
		f.tick(id)
		j := f.load(id)
		if jobs.AmountOf(j.DeliveredResources, "wood") > jobs.AmountOf(before.DeliveredResources, "wood") {
			deliveries++
		}

		a := f.loadAgent(agent)
		carried := jobs.AmountOf(a.CarriedResources, "wood")
		if carried > 5 {
			t.Fatalf("tick %d: carrying %d wood", f.now-1, carried)
		}
		stock, err := jobs.LoadStockpile(f.s, sp)
		if err != nil {
			t.Fatalf("load stockpile: %v", err)
		}
		if total := stock.Resources["wood"] + carried + jobs.AmountOf(j.DeliveredResources, "wood"); total != 20 {
			t.Fatalf("tick %d: wood total=%d want 20", f.now-1, total)
		}
		if stock.Reserved["wood"] > stock.Resources["wood"] {
			t.Fatalf("tick %d: reserved %d of %d", f.now-1, stock.Reserved["wood"], stock.Resources["wood"])
		}
	}

	j := f.load(id)
	if j.State != jobs.StateComplete {
		t.Fatalf("state=%s want complete", j.State)
	}
	if deliveries != 2 {
		t.Fatalf("deliveries=%d want 2", deliveries)
	}
	if got := jobs.AmountOf(j.DeliveredResources, "wood"); got != 10 {
		t.Fatalf("delivered=%d want 10", got)
	}
	if j.ReservedStockpile != 0 || len(j.ReservedResources) != 0 {
		t.Fatalf("reservation kept after completion: %d %+v", j.ReservedStockpile, j.ReservedResources)
	}
	stock, _ := jobs.LoadStockpile(f.s, sp)
	if stock.Resources["wood"] != 10 || len(stock.Reserved) != 0 {
		t.Fatalf("stockpile: %+v", stock)
	}
	if a := f.loadAgent(agent); a.State != jobs.AgentIdle || a.CurrentJob != 0 {
		t.Fatalf("agent not released: %+v", a)
	}
	if len(f.events(jobs.JobCompleted, id)) != 1 {
		t.Fatalf("want one job_completed")
	}
}

func TestStep_WaitsForStock(t *testing.T) {
	f := newFixture(t, 6, 2, build)
	agent := f.agent(0, 0, jobs.Agent{})
	id := f.job(jobs.Template{JobType: "build", TargetPosition: cell(3, 0)})
	f.assign(id, agent)

	f.tick(id)
	if st := f.load(id).State; st != jobs.StateWaitingForResources {
		t.Fatalf("state=%s want waiting_for_resources", st)
	}
	f.tick(id)
	if st := f.load(id).State; st != jobs.StateWaitingForResources {
		t.Fatalf("state=%s want still waiting", st)
	}

	// Not enough in one place: a reservation covers everything or nothing.
	small := f.stockpile(5, 0, map[string]int{"wood": 4})
	f.tick(id)
	if st := f.load(id).State; st != jobs.StateWaitingForResources {
		t.Fatalf("state=%s want waiting with short stockpile", st)
	}

	sp := f.stockpile(0, 1, map[string]int{"wood": 12})
	f.tick(id)
	j := f.load(id)
	if j.State != jobs.StateFetchingResources || j.ReservedStockpile != sp {
		t.Fatalf("state=%s reserved at %d want fetching at %d", j.State, j.ReservedStockpile, sp)
	}
	stock, _ := jobs.LoadStockpile(f.s, sp)
	if stock.Reserved["wood"] != 10 {
		t.Fatalf("reserved=%d want 10", stock.Reserved["wood"])
	}
	other, _ := jobs.LoadStockpile(f.s, small)
	if len(other.Reserved) != 0 {
		t.Fatalf("short stockpile reserved: %+v", other.Reserved)
	}
}

func TestStep_PendingWithCarriedGoesToDelivering(t *testing.T) {
	f := newFixture(t, 6, 2, build)
	agent := f.agent(0, 0, jobs.Agent{CarriedResources: []jobs.ResourceAmount{{Kind: "wood", Amount: 4}}})
	id := f.job(jobs.Template{JobType: "build", TargetPosition: cell(0, 0)})
	f.assign(id, agent)

	f.tick(id)
	if st := f.load(id).State; st != jobs.StateDeliveringResources {
		t.Fatalf("state=%s want delivering_resources", st)
	}
	f.tick(id)
	j := f.load(id)
	if got := jobs.AmountOf(j.DeliveredResources, "wood"); got != 4 {
		t.Fatalf("delivered=%d want 4", got)
	}
	if a := f.loadAgent(agent); len(a.CarriedResources) != 0 {
		t.Fatalf("carried after delivery: %+v", a.CarriedResources)
	}
}

func TestStep_BlockedWhileFetchingReleasesReservation(t *testing.T) {
	f := newFixture(t, 5, 1, build)
	agent := f.agent(0, 0, jobs.Agent{})
	sp := f.stockpile(4, 0, map[string]int{"wood": 20})
	id := f.job(jobs.Template{JobType: "build", TargetPosition: cell(1, 0)})
	f.assign(id, agent)

	f.tick(id) // reserve -> fetching
	if st := f.load(id).State; st != jobs.StateFetchingResources {
		t.Fatalf("state=%s want fetching_resources", st)
	}
	f.g.SetSolid(grid.Vec3i{X: 3}, true)
	f.tick(id)

	j := f.load(id)
	if j.State != jobs.StateBlocked || j.ReservedStockpile != 0 {
		t.Fatalf("state=%s reserved=%d", j.State, j.ReservedStockpile)
	}
	stock, _ := jobs.LoadStockpile(f.s, sp)
	if len(stock.Reserved) != 0 {
		t.Fatalf("reservation not returned: %+v", stock.Reserved)
	}
}
