package worldtest

import (
	"testing"

	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
)

// resourceTotal sums kind over stockpiles, carry buffers, job deliveries and
// loose items.
func resourceTotal(t *testing.T, h *Harness, kind string) int {
	t.Helper()
	s := h.W.Store()
	n := 0
	for _, id := range s.With(jobs.ComponentStockpile) {
		sp, err := jobs.LoadStockpile(s, id)
		if err != nil {
			t.Fatalf("stockpile %d: %v", id, err)
		}
		n += sp.Resources[kind]
	}
	for _, id := range s.With(jobs.ComponentAgent) {
		a, err := jobs.LoadAgent(s, id)
		if err != nil {
			t.Fatalf("agent %d: %v", id, err)
		}
		n += jobs.AmountOf(a.CarriedResources, kind)
	}
	for _, id := range s.With(jobs.ComponentJob) {
		j, err := jobs.LoadJob(s, id)
		if err != nil {
			t.Fatalf("job %d: %v", id, err)
		}
		n += jobs.AmountOf(j.DeliveredResources, kind)
	}
	for _, id := range s.With(jobs.ComponentItem) {
		it, err := store.MustLoad[jobs.Item](s, id, jobs.ComponentItem)
		if err != nil {
			t.Fatalf("item %d: %v", id, err)
		}
		if it.Kind == kind {
			n += it.Amount
		}
	}
	return n
}

func countKind(events []jobs.Notification, kind jobs.NotificationKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
