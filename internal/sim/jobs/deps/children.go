package deps

import (
	"fmt"

	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
)

// ChildStatus aggregates the states of a job's descendants.
type ChildStatus struct {
	Total     int
	Active    int
	Complete  int
	Failed    int
	Cancelled int
}

func (c ChildStatus) AllTerminal() bool { return c.Active == 0 }

// ChildrenStatus walks the job's children recursively, reading each child's
// current state from the store. Children that no longer exist count as complete.
func ChildrenStatus(s store.Store, id store.EntityID) (ChildStatus, error) {
	var st ChildStatus
	visited := map[store.EntityID]bool{id: true}
	var walk func(store.EntityID) error
	walk = func(parent store.EntityID) error {
		j, err := jobs.LoadJob(s, parent)
		if err != nil {
			return err
		}
		for _, cid := range j.Children {
			if visited[cid] {
				continue
			}
			visited[cid] = true
			st.Total++
			if !s.Exists(cid) {
				st.Complete++
				continue
			}
			c, err := jobs.LoadJob(s, cid)
			if err != nil {
				return fmt.Errorf("child %d of %d: %w", cid, parent, err)
			}
			switch c.State {
			case jobs.StateComplete:
				st.Complete++
			case jobs.StateFailed:
				st.Failed++
			case jobs.StateCancelled:
				st.Cancelled++
			default:
				st.Active++
			}
			if err := walk(cid); err != nil {
				return err
			}
		}
		return nil
	}
	return st, walk(id)
}

// Descendants returns the ids of all children of id, recursively, in
// depth-first order.
func Descendants(s store.Store, id store.EntityID) ([]store.EntityID, error) {
	var out []store.EntityID
	visited := map[store.EntityID]bool{id: true}
	var walk func(store.EntityID) error
	walk = func(parent store.EntityID) error {
		if !s.Exists(parent) {
			return nil
		}
		j, err := jobs.LoadJob(s, parent)
		if err != nil {
			return err
		}
		for _, cid := range j.Children {
			if visited[cid] {
				continue
			}
			visited[cid] = true
			out = append(out, cid)
			if err := walk(cid); err != nil {
				return err
			}
		}
		return nil
	}
	return out, walk(id)
}
