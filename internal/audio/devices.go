package audio

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// deviceIDString renders a backend device id as a stable hex key.
func deviceIDString(id malgo.DeviceID) string {
	raw := id[:]
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return hex.EncodeToString(raw[:end])
}

// Device is one enumerated input or output device.
type Device struct {
	ID          string
	Name        string
	DisplayName string
	IsActive    bool

	malgoID malgo.DeviceID
}

// RegistrySub is a registration for device-list change notifications.
// Wait fires after every registry mutation; closing the subscription
// unregisters it, so the registry never outlives its consumers' interest.
type RegistrySub struct {
	id int
	c  chan struct{}

	registry  *Registry
	closeOnce sync.Once
}

// Wait returns a channel that receives after the next mutation.
func (s *RegistrySub) Wait() <-chan struct{} {
	return s.c
}

// Close unregisters the subscription.
func (s *RegistrySub) Close() {
	s.closeOnce.Do(func() {
		s.registry.mu.Lock()
		delete(s.registry.wakers, s.id)
		s.registry.mu.Unlock()
	})
}

// Registry tracks the available input and output devices, which one of
// each is active, and who wants to hear about changes.
//
// Device activation is delegated to the capture/playback components via
// the hooks set at construction; the registry only records the result.
type Registry struct {
	logger *zap.Logger

	ctx *malgo.AllocatedContext

	activateInput  func(malgo.DeviceID) error
	activateOutput func(malgo.DeviceID) error

	mu      sync.Mutex
	input   []Device
	output  []Device
	wakers  map[int]*RegistrySub
	nextSub int
}

// NewRegistry creates a registry whose activation hooks point at the
// live capture and playback components.
func NewRegistry(logger *zap.Logger, activateInput, activateOutput func(malgo.DeviceID) error) (*Registry, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	r := &Registry{
		logger:         logger,
		ctx:            ctx,
		activateInput:  activateInput,
		activateOutput: activateOutput,
		wakers:         make(map[int]*RegistrySub),
	}

	if err := r.Refresh(); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return r, nil
}

// Refresh re-enumerates devices, preserving active flags by id.
func (r *Registry) Refresh() error {
	inputs, err := r.ctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("audio: enumerate capture devices: %w", err)
	}
	outputs, err := r.ctx.Devices(malgo.Playback)
	if err != nil {
		return fmt.Errorf("audio: enumerate playback devices: %w", err)
	}

	r.mu.Lock()
	r.input = mergeDevices(r.input, inputs)
	r.output = mergeDevices(r.output, outputs)
	r.mu.Unlock()

	r.notify()
	return nil
}

func mergeDevices(old []Device, infos []malgo.DeviceInfo) []Device {
	active := ""
	for _, d := range old {
		if d.IsActive {
			active = d.ID
		}
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		d := Device{
			ID:          deviceIDString(info.ID),
			Name:        name,
			DisplayName: name,
			malgoID:     info.ID,
		}
		d.IsActive = d.ID == active || (active == "" && info.IsDefault != 0)
		devices = append(devices, d)
	}
	return devices
}

// InputDevices returns a snapshot of the input device list.
func (r *Registry) InputDevices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Device(nil), r.input...)
}

// OutputDevices returns a snapshot of the output device list.
func (r *Registry) OutputDevices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Device(nil), r.output...)
}

// SetActiveInput activates the input device with the given id.
func (r *Registry) SetActiveInput(id string) error {
	return r.setActive(id, true)
}

// SetActiveOutput activates the output device with the given id.
func (r *Registry) SetActiveOutput(id string) error {
	return r.setActive(id, false)
}

func (r *Registry) setActive(id string, input bool) error {
	r.mu.Lock()
	list := r.output
	activate := r.activateOutput
	if input {
		list = r.input
		activate = r.activateInput
	}

	idx := -1
	for i, d := range list {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("audio: unknown device %q", id)
	}
	target := list[idx].malgoID
	r.mu.Unlock()

	if activate != nil {
		if err := activate(target); err != nil {
			return err
		}
	}

	r.mu.Lock()
	list = r.output
	if input {
		list = r.input
	}
	for i := range list {
		list[i].IsActive = list[i].ID == id
	}
	r.mu.Unlock()

	r.notify()
	return nil
}

// Subscribe registers for mutation notifications.
func (r *Registry) Subscribe() *RegistrySub {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &RegistrySub{
		id:       r.nextSub,
		c:        make(chan struct{}, 1),
		registry: r,
	}
	r.nextSub++
	r.wakers[sub.id] = sub
	return sub
}

func (r *Registry) notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.wakers {
		select {
		case sub.c <- struct{}{}:
		default:
		}
	}
}

// Close releases the enumeration context.
func (r *Registry) Close() {
	if r.ctx != nil {
		_ = r.ctx.Uninit()
		r.ctx.Free()
		r.ctx = nil
	}
}
