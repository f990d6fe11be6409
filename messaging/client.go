package messaging

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
)

// Handler processes one inbound message.
type Handler func(topic string, payload []byte)

type message struct {
	topic   string
	payload []byte
}

type will struct {
	topic    string
	payload  []byte
	retained bool
}

// Client owns the MQTT connection. Inbound messages are sharded to a fixed
// set of workers by topic so each topic is handled in delivery order.
type Client struct {
	cfg      *config.MessagingConfig
	clientID string

	mu      sync.RWMutex
	conn    mqtt.Client
	will    *will
	filters []string
	handler Handler

	// workerMu guards workers and closed; handlers never take it.
	workerMu sync.RWMutex
	workers  []chan message
	closed   bool
	wg       sync.WaitGroup
}

func NewClient(cfg *config.MessagingConfig, clientID string) *Client {
	return &Client{cfg: cfg, clientID: clientID}
}

// SetWill registers a last-will message. Call before Connect.
func (c *Client) SetWill(topic string, payload []byte, retained bool) {
	c.mu.Lock()
	c.will = &will{topic: topic, payload: payload, retained: retained}
	c.mu.Unlock()
}

// Connect establishes the broker connection. A failed initial connect is
// returned; later drops reconnect automatically.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: connection lost: %v", err)
		})
	if c.cfg.MQTT.Username != "" {
		opts.SetUsername(c.cfg.MQTT.Username)
		opts.SetPassword(c.cfg.MQTT.Password)
	}
	if c.will != nil {
		opts.SetBinaryWill(c.will.topic, c.will.payload, c.cfg.QoS, c.will.retained)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	c.conn = client
	return nil
}

// onConnect restores subscriptions after a reconnect.
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.RLock()
	filters := append([]string(nil), c.filters...)
	c.mu.RUnlock()
	for _, f := range filters {
		token := client.Subscribe(f, c.cfg.QoS, c.receive)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("messaging: resubscribe %s: %v", f, err)
		}
	}
}

// Subscribe starts the workers on first use and subscribes to each filter.
func (c *Client) Subscribe(filters []string, handler Handler) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return errors.New("mqtt not connected")
	}
	if c.handler == nil {
		c.handler = handler
		c.startWorkers()
	}
	c.filters = append(c.filters, filters...)
	conn := c.conn
	c.mu.Unlock()

	for _, f := range filters {
		token := conn.Subscribe(f, c.cfg.QoS, c.receive)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt subscribe %s: %w", f, err)
		}
	}
	return nil
}

func (c *Client) startWorkers() {
	n := c.cfg.InboundWorkers
	if n < 1 {
		n = 1
	}
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	c.workers = make([]chan message, n)
	for i := range c.workers {
		ch := make(chan message, 256)
		c.workers[i] = ch
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range ch {
				c.dispatch(msg)
			}
		}()
	}
}

func (c *Client) dispatch(msg message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("messaging: handler panic on %s: %v (payload %q)", msg.topic, r, msg.payload)
		}
	}()
	c.handler(msg.topic, msg.payload)
}

func (c *Client) receive(_ mqtt.Client, m mqtt.Message) {
	c.workerMu.RLock()
	defer c.workerMu.RUnlock()
	if c.closed || len(c.workers) == 0 {
		return
	}
	h := fnv.New32a()
	h.Write([]byte(m.Topic()))
	c.workers[h.Sum32()%uint32(len(c.workers))] <- message{topic: m.Topic(), payload: m.Payload()}
}

// Publish sends payload and waits up to the configured publish timeout.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := conn.Publish(topic, c.cfg.QoS, retained, payload)
	timeout := c.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish %s: timed out after %s", topic, timeout)
	}
	return token.Error()
}

// IsConnected returns whether the broker connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Drain unsubscribes and waits for every queued inbound message to be
// handled. The connection stays up so final publishes still go out.
func (c *Client) Drain() {
	c.mu.Lock()
	conn := c.conn
	filters := c.filters
	c.filters = nil
	c.mu.Unlock()

	if conn != nil && conn.IsConnected() && len(filters) > 0 {
		token := conn.Unsubscribe(filters...)
		token.WaitTimeout(2 * time.Second)
	}

	c.workerMu.Lock()
	if !c.closed {
		c.closed = true
		for _, ch := range c.workers {
			close(ch)
		}
	}
	c.workerMu.Unlock()
	c.wg.Wait()
}

// Close drains inbound messages, then disconnects allowing in-flight
// publishes the configured grace period.
func (c *Client) Close() {
	c.Drain()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		grace := c.cfg.DisconnectGrace
		if grace <= 0 {
			grace = time.Second
		}
		conn.Disconnect(uint(grace / time.Millisecond))
	}
}
