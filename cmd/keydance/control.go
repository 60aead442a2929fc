package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"keydance/internal/config"
	"keydance/internal/ipc"
	"keydance/internal/mode"
)

// controlSocket is where the daemon for cfg listens.
func controlSocket(cfg *config.Config) string {
	return ipc.SocketPath(filepath.Dir(cfg.Storage.Path))
}

// HandleMessage answers control requests. Anything touching the dispatcher
// runs on the loop goroutine through p.call.
func (p *pipeline) HandleMessage(ctx context.Context, msg *ipc.Message) (*ipc.Message, error) {
	switch msg.Header.Type {
	case ipc.MsgStatusRequest:
		var st ipc.StatusResponse
		err := p.call(ctx, func() error {
			st = p.status()
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ipc.NewResponse(ipc.MsgStatusResponse, 0, &st)

	case ipc.MsgSetMode:
		var req ipc.SetModeRequest
		if err := ipc.Decode(msg.Payload, &req); err != nil {
			return nil, &ipc.ErrorResponse{Code: ipc.ErrInvalidRequest, Message: err.Error()}
		}
		m, err := mode.Parse(req.Mode)
		if err != nil {
			return nil, &ipc.ErrorResponse{Code: ipc.ErrInvalidRequest, Message: err.Error()}
		}
		var resp ipc.SetModeResponse
		err = p.call(ctx, func() error {
			resp.From = p.d.Mode().String()
			if err := p.d.SetMode(m); err != nil {
				return err
			}
			resp.To = m.String()
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ipc.NewResponse(ipc.MsgSetModeResp, 0, &resp)

	case ipc.MsgReleaseAll:
		var resp ipc.ReleaseAllResponse
		err := p.call(ctx, func() error {
			if p.kbd == nil {
				return nil
			}
			for _, k := range p.kbd.Down() {
				resp.Released = append(resp.Released, k.String())
			}
			sort.Strings(resp.Released)
			p.kbd.ReleaseAll()
			return nil
		})
		if err != nil {
			return nil, err
		}
		p.log.Warn("released all keys on request", "keys", resp.Released)
		return ipc.NewResponse(ipc.MsgReleaseAllResp, 0, &resp)
	}
	return nil, nil
}

var (
	errLoopStopped     = errors.New("event loop is not running")
	errRequestPanicked = errors.New("request panicked; see crash reports")
)

// call runs fn on the loop goroutine and waits for it. An error from fn
// also stops the loop, the same as a failed mode write from a key. A panic
// in fn is recovered by the loop and reported to the caller.
func (p *pipeline) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	wrapped := func() (err error) {
		err = errRequestPanicked
		defer func() { done <- err }()
		err = fn()
		return err
	}
	select {
	case p.calls <- wrapped:
	case <-p.stopped:
		return errLoopStopped
	case <-ctx.Done():
		return errLoopStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errLoopStopped
	}
}

func (p *pipeline) status() ipc.StatusResponse {
	ds := p.d.Status()
	st := ipc.StatusResponse{
		Version:        version,
		PID:            os.Getpid(),
		Uptime:         time.Since(p.started).Truncate(time.Second),
		Device:         p.device,
		Mode:           ds.Mode.String(),
		Secondary:      ds.Mode.Secondary().String(),
		TappingTermMS:  int(ds.Window),
		CompositeCount: ds.CompositeCount,
		ChatterDropped: p.queue.Dropped(),
	}
	for _, a := range ds.Held {
		st.Held = append(st.Held, a.String())
	}
	return st
}
