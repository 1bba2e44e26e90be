package bridge

import (
	"context"
	"strings"
	"sync"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// MockBus implements Bus for testing.
type MockBus struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]func(topic string, payload []byte)
	connected bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockBus() *MockBus {
	return &MockBus{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockBus) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockBus) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockBus) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns the publishes on a single topic.
func (m *MockBus) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockBus) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// Subscribed reports whether a pattern subscription exists.
func (m *MockBus) Subscribed(pattern string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[pattern]
	return ok
}

// SimulateMessage delivers a message to the matching subscription.
func (m *MockBus) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler != nil {
		handler(topic, payload)
	}
}

// topicMatches implements single-level MQTT wildcard matching, enough
// for the command pattern used in tests.
func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

// MockController implements zwave.Controller for testing.
type MockController struct {
	mu        sync.Mutex
	nodes     []zwave.Node
	commands  []mockCommand
	requests  []zwave.ValueHandle
	sendErr   error
	scanErr   error
	onReading func(zwave.Reading)
	connected bool
}

type mockCommand struct {
	Handle zwave.ValueHandle
	Cmd    zwave.CommandValue
}

func NewMockController(nodes ...zwave.Node) *MockController {
	return &MockController{nodes: nodes, connected: true}
}

func (m *MockController) Scan(context.Context) ([]zwave.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return m.nodes, nil
}

func (m *MockController) SetOnValueChanged(fn func(zwave.Reading)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReading = fn
}

func (m *MockController) SendCommand(_ context.Context, handle zwave.ValueHandle, cmd zwave.CommandValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.commands = append(m.commands, mockCommand{Handle: handle, Cmd: cmd})
	return nil
}

func (m *MockController) RequestValue(_ context.Context, handle zwave.ValueHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, handle)
	return nil
}

func (m *MockController) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockController) Close() error { return nil }

func (m *MockController) GetCommands() []mockCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockCommand, len(m.commands))
	copy(out, m.commands)
	return out
}

func (m *MockController) GetRequests() []zwave.ValueHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]zwave.ValueHandle, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockController) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *MockController) SetScanError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanErr = err
}
