package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"colonysim.ai/internal/observerproto"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
	"colonysim.ai/internal/sim/world"
	"colonysim.ai/internal/sim/world/logic/rates"
)

// Control ops per session are limited to controlMax within controlWindow ticks.
const (
	controlWindow = 50
	controlMax    = 20
)

var errRateLimited = errors.New("rate limited")

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		width, depth := s.world.Grid().Size()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         cfg.ID,
			Tick:            s.world.CurrentTick(),
			WorldParams: observerproto.WorldParams{
				TickRateHz:  cfg.TickRateHz,
				Width:       width,
				Depth:       depth,
				BoardPolicy: string(cfg.Board.Policy),
			},
			JobTypes: s.world.JobTypes(),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := "O" + uuid.NewString()
		tickOut := make(chan []byte, 8)
		ctlOut := make(chan []byte, 64)

		joinReq := world.ObserverJoinRequest{
			SessionID: sid,
			Kinds:     sub.Kinds,
			BoardTop:  sub.BoardTop,
			Out:       tickOut,
		}
		select {
		case s.world.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b = <-ctlOut:
				case b = <-tickOut:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: CONTROL messages only.
		limit := rates.NewWindow(controlWindow, controlMax)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var ctl observerproto.ControlMsg
			if err := json.Unmarshal(msg, &ctl); err != nil {
				continue
			}
			if ctl.Type != observerproto.TypeControl || ctl.ProtocolVersion != observerproto.Version {
				continue
			}
			var res error
			if ok, _ := limit.Allow(s.world.CurrentTick()); !ok {
				res = errRateLimited
			} else {
				res = s.control(ctx, ctl)
			}
			if res != nil && s.log != nil {
				s.log.Printf("observer %s control %s %d: %v", sid, ctl.Op, ctl.JobID, res)
			}
			b, _ := json.Marshal(controlResult(ctl, res))
			select {
			case ctlOut <- b:
			case <-ctx.Done():
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// control forwards ctl to the world loop and waits for the tick that applies it.
func (s *Server) control(ctx context.Context, ctl observerproto.ControlMsg) error {
	kind, err := controlKind(ctl.Op)
	if err != nil {
		return err
	}
	resp := make(chan world.ControlResponse, 1)
	req := world.ControlRequest{Kind: kind, JobID: store.EntityID(ctl.JobID), Resp: resp}
	select {
	case s.world.Control() <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func controlKind(op string) (world.ControlKind, error) {
	switch strings.ToUpper(op) {
	case "CANCEL":
		return world.ControlCancel, nil
	case "PAUSE":
		return world.ControlPause, nil
	case "RESUME":
		return world.ControlResume, nil
	}
	return "", errors.New("unknown op " + op)
}

func controlResult(ctl observerproto.ControlMsg, err error) observerproto.ControlResultMsg {
	out := observerproto.ControlResultMsg{
		Type:            observerproto.TypeControlResult,
		ProtocolVersion: observerproto.Version,
		Op:              ctl.Op,
		JobID:           ctl.JobID,
		OK:              err == nil,
	}
	if err != nil {
		out.Error = err.Error()
		if errors.Is(err, jobs.ErrNotJob) {
			out.Error = "no such job"
		}
	}
	return out
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
