package world

import (
	"encoding/json"

	"colonysim.ai/internal/observerproto"
	"colonysim.ai/internal/sim/jobs"
)

type ObserverJoinRequest struct {
	SessionID string
	Kinds     []jobs.NotificationKind
	BoardTop  int
	Out       chan []byte
}

type observerClient struct {
	out      chan []byte
	kinds    map[jobs.NotificationKind]bool
	boardTop int
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	top := req.BoardTop
	if top > observerproto.MaxBoardTop {
		top = observerproto.MaxBoardTop
	}
	c := &observerClient{out: req.Out, boardTop: top}
	if len(req.Kinds) > 0 {
		c.kinds = map[jobs.NotificationKind]bool{}
		for _, k := range req.Kinds {
			c.kinds[k] = true
		}
	}
	w.observers[req.SessionID] = c
	w.log.Printf("observer %s joined", req.SessionID)
}

func (w *World) handleObserverLeave(id string) {
	if _, ok := w.observers[id]; !ok {
		return
	}
	delete(w.observers, id)
	w.log.Printf("observer %s left", id)
}

func (w *World) broadcastTick(tick uint64, counts map[jobs.State]int, batch []jobs.Notification) {
	if len(w.observers) == 0 {
		return
	}
	scarce := w.board.ScarceKinds()
	var ranked []observerproto.BoardEntry
	for _, r := range w.board.Top(observerproto.MaxBoardTop) {
		ranked = append(ranked, observerproto.BoardEntry{JobID: uint64(r.ID), JobType: r.JobType, Effective: r.Effective})
	}
	for sid, c := range w.observers {
		msg := observerproto.TickMsg{
			Type:            observerproto.TypeTick,
			ProtocolVersion: observerproto.Version,
			SessionID:       sid,
			Tick:            tick,
			Jobs:            counts,
			Scarce:          scarce,
		}
		if c.boardTop > 0 {
			msg.Board = ranked[:min(c.boardTop, len(ranked))]
		}
		for _, n := range batch {
			if c.kinds == nil || c.kinds[n.Kind] {
				msg.Notifications = append(msg.Notifications, n)
			}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		sendLatest(c.out, b)
	}
}

// sendLatest never blocks the tick: on a full channel it drops the oldest message.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
