package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/gui"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
)

// Switcher hot-swaps the capture device. *camera.Source satisfies it.
type Switcher interface {
	Switch(ctx context.Context, deviceID string) error
	Device() string
}

// Controller applies control panel changes that need more than a snapshot
// swap: binding a new avatar and switching cameras.
type Controller struct {
	ctx      context.Context
	src      Switcher
	lib      *retarget.Library
	avatar   retarget.Retargeter
	status   StatusFunc
	store    *gui.Store
	logger   *slog.Logger
	wg       sync.WaitGroup
	switchMu sync.Mutex // one camera switch at a time
}

// NewController creates a controller. Switches run under ctx.
func NewController(ctx context.Context, src Switcher, lib *retarget.Library, avatar retarget.Retargeter, status StatusFunc) *Controller {
	return &Controller{
		ctx:    ctx,
		src:    src,
		lib:    lib,
		avatar: avatar,
		status: status,
		logger: log.Component("control"),
	}
}

// Attach binds the store's current avatar and follows later changes.
func (c *Controller) Attach(store *gui.Store) error {
	if name := store.Load().Image.Avatar; name != "" {
		if err := c.BindAvatar(name); err != nil {
			return err
		}
	}
	c.store = store
	store.OnChange(c.onChange)
	return nil
}

func (c *Controller) onChange(prev, next *gui.State) {
	if next.Image.Avatar != prev.Image.Avatar && next.Image.Avatar != "" {
		if err := c.BindAvatar(next.Image.Avatar); err != nil {
			c.report(protocol.LevelError, "avatar", "could not load avatar", err)
		}
	}
	if next.Camera.Device != prev.Camera.Device && next.Camera.Device != "" {
		c.SwitchCamera(next.Camera.Device)
	}
}

// BindAvatar looks up name in the library and binds it.
func (c *Controller) BindAvatar(name string) error {
	t, err := c.lib.Get(name)
	if err != nil {
		return err
	}
	if err := c.avatar.Bind(t); err != nil {
		return err
	}
	c.logger.Info("avatar bound", "avatar", name)
	return nil
}

// SwitchCamera starts a switch in the background. Render ticks are skipped
// until it completes. Failures are reported, not retried, and the attached
// store is pointed back at the device still in use so the same selection
// can be tried again.
func (c *Controller) SwitchCamera(deviceID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.switchMu.Lock()
		defer c.switchMu.Unlock()

		if c.src.Device() == deviceID {
			return
		}
		c.logger.Info("switching camera", "device", deviceID)
		if err := c.src.Switch(c.ctx, deviceID); err != nil {
			c.logger.Error("camera switch failed", "device", deviceID, "error", err)
			c.report(protocol.LevelError, "camera", "could not open camera "+deviceID, err)
			c.restoreDevice(deviceID)
			return
		}
		c.report(protocol.LevelInfo, "camera", "camera switched to "+deviceID, nil)
	}()
}

// restoreDevice resets camera.device after a failed switch to failed, unless
// another selection has been made since.
func (c *Controller) restoreDevice(failed string) {
	if c.store == nil || c.store.Load().Camera.Device != failed {
		return
	}
	current := c.src.Device()
	if err := c.store.Update(map[string]interface{}{"camera.device": current}); err != nil {
		c.logger.Warn("could not restore camera selection", "device", current, "error", err)
	}
}

// Wait blocks until background switches finish.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) report(level protocol.Level, component, msg string, err error) {
	if c.status != nil {
		c.status(level, component, msg, err)
	}
}
