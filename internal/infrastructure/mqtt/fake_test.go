package mqtt

import (
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a paho token completed by close(done).
type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeBroker implements pahomqtt.Client in memory.
type fakeBroker struct {
	mu   sync.Mutex
	opts *pahomqtt.ClientOptions

	created        int
	connectCalls   int
	connectErr     error
	connectGate    chan struct{} // Connect completes when closed, if set
	acceptOffline  bool          // Connect succeeds without opening the socket
	publishGate    chan struct{} // Publish completes when closed, if set
	publishErr     error
	connected      bool
	disconnected   bool
	published      []published
	subscribeCalls map[string]int
	handlers       map[string]pahomqtt.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subscribeCalls: make(map[string]int),
		handlers:       make(map[string]pahomqtt.MessageHandler),
	}
}

func (f *fakeBroker) factory(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	f.created++
	return f
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeBroker) Connect() pahomqtt.Token {
	f.mu.Lock()
	f.connectCalls++
	gate := f.connectGate
	err := f.connectErr
	offline := f.acceptOffline
	f.mu.Unlock()

	token := &fakeToken{done: make(chan struct{})}
	go func() {
		if gate != nil {
			<-gate
		}
		token.err = err
		if err == nil && !offline {
			f.mu.Lock()
			f.connected = true
			onConnect := f.opts.OnConnect
			f.mu.Unlock()
			onConnect(f)
		}
		close(token.done)
	}()
	return token
}

func (f *fakeBroker) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeBroker) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	gate := f.publishGate
	err := f.publishErr
	if err == nil {
		f.published = append(f.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	}
	f.mu.Unlock()

	if gate == nil {
		return doneToken(err)
	}
	token := &fakeToken{done: make(chan struct{}), err: err}
	go func() {
		<-gate
		close(token.done)
	}()
	return token
}

func (f *fakeBroker) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls[topic]++
	f.handlers[topic] = callback
	return doneToken(nil)
}

func (f *fakeBroker) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	for topic, qos := range filters {
		f.Subscribe(topic, qos, callback)
	}
	return doneToken(nil)
}

func (f *fakeBroker) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	return doneToken(nil)
}

func (f *fakeBroker) AddRoute(topic string, callback pahomqtt.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = callback
}

func (f *fakeBroker) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver hands a message to the handler registered for subscription.
func (f *fakeBroker) deliver(subscription, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[subscription]
	f.mu.Unlock()
	if h != nil {
		h(f, fakeMessage{topic: topic, payload: payload})
	}
}

// drop simulates a network failure followed by paho's automatic reconnect.
func (f *fakeBroker) drop() {
	f.lose()
	f.restore()
}

// lose drops the socket and leaves paho in its reconnect loop. While it
// reconnects, paho accepts Connect without opening the socket.
func (f *fakeBroker) lose() {
	f.mu.Lock()
	f.connected = false
	f.acceptOffline = true
	opts := f.opts
	f.mu.Unlock()

	opts.OnConnectionLost(f, errors.New("connection reset by peer"))
	opts.OnReconnecting(f, opts)
}

// restore completes paho's automatic reconnect.
func (f *fakeBroker) restore() {
	f.mu.Lock()
	f.connected = true
	f.acceptOffline = false
	opts := f.opts
	f.mu.Unlock()
	opts.OnConnect(f)
}

func (f *fakeBroker) stats() (created, connects int, pubs []published) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.connectCalls, append([]published(nil), f.published...)
}
