package calibration

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/valuerange"
)

// ChannelInfo describes a channel for manual control.
type ChannelInfo struct {
	ID        device.ChannelID `json:"id"`
	Device    string           `json:"device,omitempty"`
	Practical string           `json:"practical,omitempty"`
	Effective string           `json:"effective,omitempty"`
	Value     float64          `json:"value"`
	Position  *int             `json:"position,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Channels lists every channel in the calibration order with its ranges,
// current value and the matching position.
func (c *Controller) Channels() []ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ChannelInfo, 0, len(c.opts.Order))
	for _, id := range c.opts.Order {
		info := c.channels[id]
		ci := ChannelInfo{ID: id}
		if p, ok := c.opts.PracticalRanges[id]; ok {
			ci.Practical = p.String()
		}
		if info.err != nil {
			ci.Error = info.err.Error()
			out = append(out, ci)
			continue
		}
		ci.Device = info.device.String()

		v, err := info.ch.Current()
		if err != nil {
			ci.Error = err.Error()
			out = append(out, ci)
			continue
		}
		ci.Value = v

		eff, err := c.effectiveLocked(info)
		if err != nil {
			ci.Error = err.Error()
			out = append(out, ci)
			continue
		}
		ci.Effective = eff.String()
		if pos, err := positionOf(v, eff); err == nil {
			ci.Position = &pos
		}
		out = append(out, ci)
	}
	return out
}

// SetPosition applies the value at position on channel id, the way a
// slider would. It is refused while a run is active.
func (c *Controller) SetPosition(id device.ChannelID, position int) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase.Active() {
		return 0, ErrCalibrationInProgress
	}
	info, ok := c.channels[id]
	if !ok {
		return 0, ErrUnknownChannel
	}
	if info.err != nil {
		return 0, info.err
	}
	eff, err := c.effectiveLocked(info)
	if err != nil {
		return 0, err
	}
	value, err := valuerange.ToValue(eff, info.device, valuerange.ClampPosition(position))
	if err != nil {
		return 0, err
	}
	if err := c.session.SetManual(true); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to disable automatic exposure")
	}
	if err := info.ch.Apply(value); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to apply %v to %s", value, id)
	}
	return value, nil
}

// Snapshot returns the current value of every available channel.
func (c *Controller) Snapshot() map[device.ChannelID]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[device.ChannelID]float64, len(c.channels))
	for id, info := range c.channels {
		if info.ch == nil {
			continue
		}
		if v, err := info.ch.Current(); err == nil {
			out[id] = v
		}
	}
	return out
}

// Restore applies previously snapshotted values. It is refused while a run
// is active.
func (c *Controller) Restore(values map[device.ChannelID]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase.Active() {
		return ErrCalibrationInProgress
	}
	for id, v := range values {
		info, ok := c.channels[id]
		if !ok || info.ch == nil {
			continue
		}
		if err := info.ch.Apply(v); err != nil {
			return pkgerrors.Wrapf(err, "failed to restore %s", id)
		}
	}
	return nil
}
