package serialapi

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// Protocol timing and retry constants.
const (
	defaultBaudRate = 115200

	// ackTimeout is how long to wait for the stick to ACK a frame.
	ackTimeout = 1500 * time.Millisecond

	// responseTimeout is how long to wait for a response frame after ACK.
	responseTimeout = 5 * time.Second

	// sendRetries is the number of times a frame is retransmitted on
	// NAK, CAN or ACK timeout.
	sendRetries = 3

	// retryDelay is the pause before retransmitting after NAK or CAN.
	retryDelay = 100 * time.Millisecond

	// transmitOptions requests node ACK, automatic routing and explore
	// frames for every outbound command.
	transmitOptions = 0x25
)

// Command class command identifiers.
const (
	cmdSet    = 0x01
	cmdGet    = 0x02
	cmdReport = 0x03

	cmdSensorMultilevelGet    = 0x04
	cmdSensorMultilevelReport = 0x05
)

// Generic device classes from node protocol info.
const (
	genericBinarySwitch     = 0x10
	genericMultilevelSwitch = 0x11
	genericBinarySensor     = 0x20
	genericMultilevelSensor = 0x21
)

// capabilityListening is the protocol-info capability bit for
// mains-powered, always-awake nodes.
const capabilityListening = 0x80

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds serial controller configuration.
type Config struct {
	// Device is the serial device path (e.g., "/dev/ttyACM0").
	Device string

	// BaudRate for the port. Default: 115200.
	BaudRate int

	// Logger is optional; nil disables logging.
	Logger Logger
}

// Controller drives a controller stick over its serial port.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - One request is in flight at a time; callers queue on an internal
//     mutex.
//   - The value-changed callback runs on the read-loop goroutine and
//     must not block.
type Controller struct {
	cfg  Config
	port io.ReadWriteCloser

	// writeMu serializes raw writes to the port.
	writeMu sync.Mutex

	// reqMu ensures a single outstanding request/response exchange.
	reqMu sync.Mutex

	ackCh  chan byte
	respCh chan *frame

	// onReading is invoked for every decoded value report.
	onReading  func(zwave.Reading)
	callbackMu sync.RWMutex

	// nodes is the result of the last scan, used to validate handles
	// and interpret Basic reports.
	nodes   map[zwave.NodeID]zwave.Node
	nodesMu sync.RWMutex

	// callbackID tags SendData frames; the stick echoes it in delivery
	// callbacks. Guarded by reqMu.
	callbackID byte

	connected bool
	connMu    sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Ensure Controller implements zwave.Controller.
var _ zwave.Controller = (*Controller)(nil)

// Open opens the serial port and starts the receive loop.
//
// A NAK is written first to reset the stick's frame parser in case a
// previous session left it mid-frame.
//
// Parameters:
//   - cfg: Serial device configuration
//
// Returns:
//   - *Controller: Ready controller; call Scan next
//   - error: If the port cannot be opened
func Open(cfg Config) (*Controller, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", cfg.Device, err)
	}

	c := newController(cfg, port)

	// Reset the stick's frame parser.
	if err := c.writeControl(frameNAK); err != nil {
		port.Close() //nolint:errcheck // Best effort cleanup
		return nil, fmt.Errorf("resetting controller framing: %w", err)
	}

	return c, nil
}

// newController wires a controller around any read-write stream. Tests
// use this with an in-memory pipe instead of real hardware.
func newController(cfg Config, port io.ReadWriteCloser) *Controller {
	c := &Controller{
		cfg:       cfg,
		port:      port,
		ackCh:     make(chan byte, 4),
		respCh:    make(chan *frame, 4),
		nodes:     make(map[zwave.NodeID]zwave.Node),
		connected: true,
		done:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()

	return c
}

// SetOnValueChanged registers the value report callback.
func (c *Controller) SetOnValueChanged(fn func(zwave.Reading)) {
	c.callbackMu.Lock()
	c.onReading = fn
	c.callbackMu.Unlock()
}

// IsConnected reports whether the serial link is up.
func (c *Controller) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Close shuts down the receive loop and closes the port.
func (c *Controller) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.done)
		c.setConnected(false)
		err = c.port.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Controller) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// Scan enumerates the network.
//
// It requests the init data bitmask and then the protocol info of every
// node present. Nodes whose generic device class the bridge does not
// understand are returned with no value slots.
func (c *Controller) Scan(ctx context.Context) ([]zwave.Node, error) {
	resp, err := c.request(ctx, funcGetInitData, nil)
	if err != nil {
		return nil, fmt.Errorf("requesting init data: %w", err)
	}
	if len(resp.Data) < 3 {
		return nil, fmt.Errorf("init data response too short: %d bytes", len(resp.Data))
	}

	bitmaskLen := int(resp.Data[2])
	if len(resp.Data) < 3+bitmaskLen {
		return nil, fmt.Errorf("init data bitmask truncated: want %d bytes", bitmaskLen)
	}
	bitmask := resp.Data[3 : 3+bitmaskLen]

	var nodes []zwave.Node
	for i, b := range bitmask {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) == 0 {
				continue
			}
			id := zwave.NodeID(i*8 + bit + 1)

			node, err := c.probeNode(ctx, id)
			if err != nil {
				c.logWarn("node probe failed", "node", id, "error", err)
				continue
			}
			nodes = append(nodes, node)
		}
	}

	c.nodesMu.Lock()
	c.nodes = make(map[zwave.NodeID]zwave.Node, len(nodes))
	for _, n := range nodes {
		c.nodes[n.ID] = n
	}
	c.nodesMu.Unlock()

	c.logInfo("network scan complete", "nodes", len(nodes))
	return nodes, nil
}

// probeNode requests protocol info for one node and derives its value slots.
func (c *Controller) probeNode(ctx context.Context, id zwave.NodeID) (zwave.Node, error) {
	resp, err := c.request(ctx, funcGetNodeProtocolInfo, []byte{byte(id)})
	if err != nil {
		return zwave.Node{}, err
	}
	if len(resp.Data) < 6 {
		return zwave.Node{}, fmt.Errorf("protocol info too short: %d bytes", len(resp.Data))
	}

	listening := resp.Data[0]&capabilityListening != 0
	generic := resp.Data[4]

	node := zwave.Node{
		ID:        id,
		Listening: listening,
		Values:    valuesForGeneric(id, generic),
	}

	if !listening {
		node.Values = append(node.Values, zwave.ValueInfo{
			Handle:   zwave.ValueHandle{Node: id, Class: zwave.ClassBattery, Instance: 1},
			Label:    "Battery Level",
			Unit:     "%",
			Kind:     zwave.KindNumeric,
			ReadOnly: true,
		})
	}

	return node, nil
}

// valuesForGeneric maps a generic device class to the value slots the
// bridge exposes for it.
func valuesForGeneric(id zwave.NodeID, generic byte) []zwave.ValueInfo {
	switch generic {
	case genericBinarySwitch:
		return []zwave.ValueInfo{{
			Handle: zwave.ValueHandle{Node: id, Class: zwave.ClassSwitchBinary, Instance: 1},
			Label:  "Switch",
			Kind:   zwave.KindBool,
		}}
	case genericMultilevelSwitch:
		return []zwave.ValueInfo{{
			Handle: zwave.ValueHandle{Node: id, Class: zwave.ClassSwitchMultilevel, Instance: 1},
			Label:  "Level",
			Kind:   zwave.KindLevel,
		}}
	case genericBinarySensor:
		return []zwave.ValueInfo{{
			Handle:   zwave.ValueHandle{Node: id, Class: zwave.ClassSensorBinary, Instance: 1},
			Label:    "Sensor",
			Kind:     zwave.KindBool,
			ReadOnly: true,
		}}
	case genericMultilevelSensor:
		return []zwave.ValueInfo{{
			Handle:   zwave.ValueHandle{Node: id, Class: zwave.ClassSensorMultilevel, Instance: 1},
			Label:    "Sensor",
			Kind:     zwave.KindNumeric,
			ReadOnly: true,
		}}
	default:
		return nil
	}
}

// SendCommand issues a set command to an actuator value.
func (c *Controller) SendCommand(ctx context.Context, handle zwave.ValueHandle, cmd zwave.CommandValue) error {
	if !c.IsConnected() {
		return zwave.ErrNotConnected
	}
	if !c.knownNode(handle.Node) {
		return fmt.Errorf("%w: node %d", zwave.ErrUnknownNode, handle.Node)
	}

	var value byte
	switch {
	case handle.Class == zwave.ClassSwitchBinary && cmd.Kind == zwave.CommandOnOff:
		if cmd.On {
			value = 0xFF
		}
	case handle.Class == zwave.ClassSwitchMultilevel && cmd.Kind == zwave.CommandLevel:
		value = cmd.Level
		if value > 99 {
			value = 99
		}
	case handle.Class == zwave.ClassSwitchMultilevel && cmd.Kind == zwave.CommandOnOff:
		if cmd.On {
			value = 0xFF // Node restores its own last level
		}
	default:
		return fmt.Errorf("%w: class 0x%02x, kind %d",
			zwave.ErrUnsupportedCommand, byte(handle.Class), cmd.Kind)
	}

	payload := []byte{
		byte(handle.Node),
		3, // Command length: class, command, value
		byte(handle.Class),
		cmdSet,
		value,
		transmitOptions,
	}

	return c.sendData(ctx, payload)
}

// RequestValue asks a node to report a value's current state.
//
// The report arrives asynchronously through the value-changed callback.
func (c *Controller) RequestValue(ctx context.Context, handle zwave.ValueHandle) error {
	if !c.IsConnected() {
		return zwave.ErrNotConnected
	}
	if !c.knownNode(handle.Node) {
		return fmt.Errorf("%w: node %d", zwave.ErrUnknownNode, handle.Node)
	}

	get := byte(cmdGet)
	if handle.Class == zwave.ClassSensorMultilevel {
		get = cmdSensorMultilevelGet
	}

	payload := []byte{
		byte(handle.Node),
		2, // Command length: class, command
		byte(handle.Class),
		get,
		transmitOptions,
	}

	return c.sendData(ctx, payload)
}

// sendData issues a SendData request and checks the stick accepted it.
func (c *Controller) sendData(ctx context.Context, payload []byte) error {
	c.reqMu.Lock()
	c.callbackID++
	if c.callbackID == 0 {
		c.callbackID = 1
	}
	payload = append(payload, c.callbackID)
	c.reqMu.Unlock()

	resp, err := c.request(ctx, funcSendData, payload)
	if err != nil {
		return err
	}
	if len(resp.Data) < 1 || resp.Data[0] == 0 {
		return fmt.Errorf("%w: controller rejected transmit", zwave.ErrTimeout)
	}
	return nil
}

func (c *Controller) knownNode(id zwave.NodeID) bool {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	if len(c.nodes) == 0 {
		// No scan yet; let the stick decide.
		return true
	}
	_, ok := c.nodes[id]
	return ok
}

// request writes a request frame and waits for its ACK and response.
//
// Only one request runs at a time. Control bytes and responses from a
// previous timed-out exchange are drained before sending.
func (c *Controller) request(ctx context.Context, function byte, data []byte) (*frame, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if !c.IsConnected() {
		return nil, zwave.ErrNotConnected
	}

	c.drainStale()

	wire := encodeFrame(typeRequest, function, data)

	if err := c.awaitAck(ctx, wire); err != nil {
		return nil, err
	}
	return c.awaitResponse(ctx, function)
}

// drainStale empties leftover control bytes and responses.
func (c *Controller) drainStale() {
	for {
		select {
		case <-c.ackCh:
		case <-c.respCh:
		default:
			return
		}
	}
}

// awaitAck transmits the frame until the stick ACKs it.
func (c *Controller) awaitAck(ctx context.Context, wire []byte) error {
	for attempt := 0; attempt < sendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
		}
		if err := c.writeFrame(wire); err != nil {
			return fmt.Errorf("writing frame: %w", err)
		}

		timer := time.NewTimer(ackTimeout)
		select {
		case ctl := <-c.ackCh:
			timer.Stop()
			if ctl == frameACK {
				return nil
			}
			// NAK or CAN: retransmit after a short delay.
		case <-timer.C:
			// Retransmit.
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.done:
			timer.Stop()
			return zwave.ErrNotConnected
		}
	}
	return fmt.Errorf("%w: no ACK after %d attempts", zwave.ErrTimeout, sendRetries)
}

// awaitResponse waits for the response frame matching the function.
func (c *Controller) awaitResponse(ctx context.Context, function byte) (*frame, error) {
	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

	for {
		select {
		case f := <-c.respCh:
			if f.Function == function {
				return f, nil
			}
			// Response to an earlier exchange; drop it.
		case <-timer.C:
			return nil, fmt.Errorf("%w: no response for function 0x%02x",
				zwave.ErrTimeout, function)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, zwave.ErrNotConnected
		}
	}
}

func (c *Controller) writeFrame(wire []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.port.Write(wire)
	return err
}

func (c *Controller) writeControl(b byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.port.Write([]byte{b})
	return err
}

// readLoop decodes the serial stream until shutdown or port failure.
func (c *Controller) readLoop() {
	defer c.wg.Done()

	fr := newFrameReader(c.port)
	for {
		ev, err := fr.next()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.setConnected(false)
			c.logError("serial read failed", "error", err)
			return
		}

		if ev.Control != 0 {
			select {
			case c.ackCh <- ev.Control:
			default:
			}
			continue
		}

		// Every data frame is acknowledged immediately.
		if err := c.writeControl(frameACK); err != nil {
			c.logError("writing ACK failed", "error", err)
		}

		f := ev.Frame
		switch {
		case f.Type == typeRequest && f.Function == funcApplicationCommand:
			c.handleApplicationCommand(f.Data)
		case f.Type == typeRequest && f.Function == funcSendData:
			// Delivery callback for an earlier SendData; nothing to do.
			c.logDebug("transmit complete", "data", f.Data)
		case f.Type == typeResponse:
			select {
			case c.respCh <- f:
			default:
				c.logWarn("dropping unexpected response", "function", f.Function)
			}
		}
	}
}

// handleApplicationCommand decodes an unsolicited command frame into a
// reading and delivers it to the callback.
//
// Frame data layout: rxStatus, srcNode, cmdLength, class, command, params.
func (c *Controller) handleApplicationCommand(data []byte) {
	if len(data) < 5 {
		c.logWarn("application command too short", "bytes", len(data))
		return
	}

	node := zwave.NodeID(data[1])
	class := zwave.CommandClass(data[3])
	command := data[4]
	params := data[5:]

	reading, ok := c.decodeReading(node, class, command, params)
	if !ok {
		c.logDebug("ignoring command class",
			"node", node, "class", fmt.Sprintf("0x%02x", byte(class)), "command", command)
		return
	}

	c.callbackMu.RLock()
	fn := c.onReading
	c.callbackMu.RUnlock()

	if fn != nil {
		fn(reading)
	}
}

// decodeReading translates one command-class report into a Reading.
func (c *Controller) decodeReading(node zwave.NodeID, class zwave.CommandClass, command byte, params []byte) (zwave.Reading, bool) {
	now := time.Now()

	switch class {
	case zwave.ClassBasic:
		// Basic reports are re-homed onto the node's primary value so
		// state lands on the same handle the scan advertised.
		if (command != cmdReport && command != cmdSet) || len(params) < 1 {
			return zwave.Reading{}, false
		}
		return c.basicReading(node, params[0], now)

	case zwave.ClassSwitchBinary, zwave.ClassSensorBinary:
		if command != cmdReport || len(params) < 1 {
			return zwave.Reading{}, false
		}
		return zwave.Reading{
			Handle: zwave.ValueHandle{Node: node, Class: class, Instance: 1},
			Kind:   zwave.KindBool,
			Bool:   params[0] != 0,
			Time:   now,
		}, true

	case zwave.ClassSwitchMultilevel:
		if command != cmdReport || len(params) < 1 {
			return zwave.Reading{}, false
		}
		level := params[0]
		if level == 0xFF {
			level = 99
		}
		return zwave.Reading{
			Handle: zwave.ValueHandle{Node: node, Class: class, Instance: 1},
			Kind:   zwave.KindLevel,
			Level:  level,
			Time:   now,
		}, true

	case zwave.ClassSensorMultilevel:
		if command != cmdSensorMultilevelReport || len(params) < 3 {
			return zwave.Reading{}, false
		}
		value, ok := decodeSensorValue(params[1], params[2:])
		if !ok {
			return zwave.Reading{}, false
		}
		return zwave.Reading{
			Handle:  zwave.ValueHandle{Node: node, Class: class, Instance: 1},
			Kind:    zwave.KindNumeric,
			Numeric: value,
			Time:    now,
		}, true

	case zwave.ClassBattery:
		if command != cmdReport || len(params) < 1 {
			return zwave.Reading{}, false
		}
		percent := float64(params[0])
		if params[0] == 0xFF {
			// 0xFF is the low-battery warning.
			percent = 0
		}
		return zwave.Reading{
			Handle:  zwave.ValueHandle{Node: node, Class: class, Instance: 1},
			Kind:    zwave.KindNumeric,
			Numeric: percent,
			Unit:    "%",
			Time:    now,
		}, true

	default:
		return zwave.Reading{}, false
	}
}

// basicReading maps a Basic report onto the node's primary value slot.
func (c *Controller) basicReading(node zwave.NodeID, value byte, now time.Time) (zwave.Reading, bool) {
	c.nodesMu.RLock()
	n, ok := c.nodes[node]
	c.nodesMu.RUnlock()
	if !ok || len(n.Values) == 0 {
		return zwave.Reading{}, false
	}

	primary := n.Values[0]
	switch primary.Kind {
	case zwave.KindBool:
		return zwave.Reading{
			Handle: primary.Handle,
			Kind:   zwave.KindBool,
			Bool:   value != 0,
			Time:   now,
		}, true
	case zwave.KindLevel:
		level := value
		if level == 0xFF {
			level = 99
		}
		return zwave.Reading{
			Handle: primary.Handle,
			Kind:   zwave.KindLevel,
			Level:  level,
			Time:   now,
		}, true
	default:
		return zwave.Reading{}, false
	}
}

// decodeSensorValue decodes the precision/scale/size byte and value
// bytes of a multilevel sensor report.
func decodeSensorValue(meta byte, raw []byte) (float64, bool) {
	precision := int(meta>>5) & 0x07
	size := int(meta) & 0x07

	if size == 0 || size > 4 || len(raw) < size {
		return 0, false
	}

	var v int64
	for i := 0; i < size; i++ {
		v = v<<8 | int64(raw[i])
	}

	// Sign-extend from the report's width.
	shift := uint(64 - size*8)
	v = v << shift >> shift

	return float64(v) / math.Pow10(precision), true
}

// Logging helpers; no-ops when no logger is configured.

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Error(msg, keysAndValues...)
	}
}
