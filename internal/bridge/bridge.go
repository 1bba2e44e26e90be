package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/infrastructure/config"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// Options configures a Bridge. Config, Bus and Controller are required;
// the rest are optional.
type Options struct {
	Config     *config.Config
	Bus        Bus
	Controller zwave.Controller
	Journal    EventRecorder
	Telemetry  Telemetry
	Logger     Logger
}

// Bridge wires the controller, the bus and the device model into the
// startup sequence and owns the synchronizer's lifecycle.
//
// Startup order matters: the value-changed callback is registered
// before the scan so no report is lost, and discovery is published
// before the synchronizer starts so the controller sees configuration
// before state.
type Bridge struct {
	cfg       *config.Config
	model     *device.Model
	sync      *Synchronizer
	discovery *DiscoveryPublisher
	bus       Bus
	ctrl      zwave.Controller
	logger    Logger

	// ignored holds lowercased capability labels dropped at scan time.
	ignored map[string]bool

	startedAt time.Time
}

// New validates the options and builds a Bridge. Call Start next.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil {
		return nil, errors.New("bridge: config is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bridge: bus is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("bridge: controller is required")
	}

	router := Router{
		Prefix:          opts.Config.Bridge.TopicPrefix,
		DiscoveryPrefix: opts.Config.Bridge.DiscoveryPrefix,
	}
	qos := byte(opts.Config.MQTT.QoS) // #nosec G115 -- validated 0-2 by config

	model := device.NewModel()
	if opts.Logger != nil {
		model.SetLogger(opts.Logger)
	}

	sync, err := NewSynchronizer(SynchronizerOptions{
		Model:          model,
		Router:         router,
		Bus:            opts.Bus,
		Controller:     opts.Controller,
		QoS:            qos,
		RetainState:    opts.Config.Bridge.RetainState,
		OptimisticEcho: opts.Config.Bridge.OptimisticEcho,
		PendingTimeout: opts.Config.GetPendingTimeout(),
		Journal:        opts.Journal,
		Telemetry:      opts.Telemetry,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	ignored := make(map[string]bool, len(opts.Config.Bridge.IgnoredLabels))
	for _, label := range opts.Config.Bridge.IgnoredLabels {
		ignored[strings.ToLower(label)] = true
	}

	return &Bridge{
		cfg:       opts.Config,
		model:     model,
		sync:      sync,
		discovery: NewDiscoveryPublisher(router, opts.Bus, qos, opts.Logger),
		bus:       opts.Bus,
		ctrl:      opts.Controller,
		logger:    opts.Logger,
		ignored:   ignored,
	}, nil
}

// Start runs the startup sequence: scan, model build, discovery,
// command subscription, initial state report.
//
// A scan failure is the one fatal path; everything after startup
// degrades instead of terminating.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctrl.SetOnValueChanged(b.sync.HandleReading)

	scanCtx, cancel := context.WithTimeout(ctx, b.cfg.GetScanTimeout())
	nodes, err := b.ctrl.Scan(scanCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: network scan: %w", ErrNetworkUnavailable, err)
	}

	for _, node := range nodes {
		caps := b.capabilitiesFor(node)
		if len(caps) == 0 {
			b.logDebug("node has no usable capabilities", "node", node.ID)
			continue
		}
		b.model.Upsert(node.ID, b.nodeName(node), caps)
	}

	records, err := b.discovery.PublishAll(b.model.List())
	if err != nil {
		return fmt.Errorf("publishing discovery: %w", err)
	}

	if err := b.sync.Start(); err != nil {
		return err
	}

	b.sync.ReportAll(ctx)
	b.startedAt = time.Now()

	b.logInfo("bridge started",
		"nodes", len(nodes),
		"devices", len(b.model.List()),
		"discovery_records", records)
	return nil
}

// Stop shuts down the synchronizer. The bus and controller are owned by
// the caller and closed there.
func (b *Bridge) Stop() {
	b.sync.Stop()
	b.logInfo("bridge stopped")
}

// capabilitiesFor maps a scanned node's value slots to model
// capabilities, expanding each dimmer value into a switch/dimmer pair
// sharing the handle.
func (b *Bridge) capabilitiesFor(node zwave.Node) []device.Capability {
	var caps []device.Capability
	idx := 0

	for _, v := range node.Values {
		if b.ignored[strings.ToLower(v.Label)] {
			b.logDebug("ignoring capability by label", "node", node.ID, "label", v.Label)
			continue
		}

		switch v.Kind {
		case zwave.KindBool:
			kind := device.Switch
			if v.ReadOnly {
				kind = device.BinarySensor
			}
			caps = append(caps, device.Capability{
				Kind:   kind,
				Index:  idx,
				Label:  v.Label,
				Handle: v.Handle,
				Paired: -1,
			})
			idx++

		case zwave.KindLevel:
			// A dimmable light is two slots on one handle.
			caps = append(caps,
				device.Capability{
					Kind:   device.Switch,
					Index:  idx,
					Label:  "Switch",
					Handle: v.Handle,
					Paired: idx + 1,
				},
				device.Capability{
					Kind:   device.Dimmer,
					Index:  idx + 1,
					Label:  v.Label,
					Handle: v.Handle,
					Paired: idx,
				},
			)
			idx += 2

		case zwave.KindNumeric:
			caps = append(caps, device.Capability{
				Kind:   device.NumericSensor,
				Index:  idx,
				Label:  v.Label,
				Unit:   v.Unit,
				Handle: v.Handle,
				Paired: -1,
			})
			idx++
		}
	}

	return caps
}

// nodeName picks the device name: configured override, then product
// string, then a generated fallback.
func (b *Bridge) nodeName(node zwave.Node) string {
	if name, ok := b.cfg.Bridge.NodeNames[int(node.ID)]; ok {
		return name
	}
	if node.Product != "" {
		return node.Product
	}
	return fmt.Sprintf("node-%d", node.ID)
}

// Devices returns snapshots of every device in the model.
func (b *Bridge) Devices() []device.Device {
	return b.model.List()
}

// Device returns a snapshot of one device.
func (b *Bridge) Device(id zwave.NodeID) (device.Device, error) {
	return b.model.Get(id)
}

// Stats returns the synchronizer counters.
func (b *Bridge) Stats() SyncStats {
	return b.sync.Stats()
}

// RepublishDiscovery re-publishes every retained discovery record.
//
// Never triggered automatically; this is the operator entry point for
// re-advertising without a restart.
func (b *Bridge) RepublishDiscovery() (int, error) {
	records, err := b.discovery.PublishAll(b.model.List())
	if err != nil {
		return records, err
	}
	b.logInfo("discovery republished", "records", records)
	return records, nil
}

// Uptime returns the time since Start completed.
func (b *Bridge) Uptime() time.Duration {
	if b.startedAt.IsZero() {
		return 0
	}
	return time.Since(b.startedAt)
}

// BusConnected reports the bus connection state.
func (b *Bridge) BusConnected() bool {
	return b.bus.IsConnected()
}

// NetworkConnected reports the controller link state.
func (b *Bridge) NetworkConnected() bool {
	return b.ctrl.IsConnected()
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}
