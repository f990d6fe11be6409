package messaging

import (
	"strings"
)

// Topic names one message family on the bus.
type Topic int

const (
	TopicReport Topic = iota
	TopicNodeOnline
	TopicCommand
	TopicConfiguration
	TopicOrchestratorOnline
)

const wildcardID = "+"

// Topics builds and parses topic strings of the form <prefix>/<id>/<suffix>.
// The orchestrator-online topic has the fixed id "orchestrator".
type Topics struct {
	prefix string
}

func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = "riot2"
	}
	return Topics{prefix: strings.TrimRight(prefix, "/")}
}

var suffixes = map[Topic]string{
	TopicReport:        "report",
	TopicNodeOnline:    "online",
	TopicCommand:       "command",
	TopicConfiguration: "configuration",
}

// Get returns the topic string for id.
func (t Topics) Get(id string, topic Topic) string {
	if topic == TopicOrchestratorOnline {
		return t.prefix + "/orchestrator/online"
	}
	return t.prefix + "/" + id + "/" + suffixes[topic]
}

// Subscription returns the wildcard filter matching topic for any id.
func (t Topics) Subscription(topic Topic) string {
	return t.Get(wildcardID, topic)
}

// Classify identifies an inbound topic. The orchestrator-online topic is
// reported as such rather than as a node's online topic.
func (t Topics) Classify(topic string) (Topic, string, bool) {
	if topic == t.Get("", TopicOrchestratorOnline) {
		return TopicOrchestratorOnline, "", true
	}
	for _, kind := range []Topic{TopicReport, TopicNodeOnline, TopicCommand, TopicConfiguration} {
		if Match(t.Subscription(kind), topic) {
			id := strings.TrimPrefix(topic, t.prefix+"/")
			id = strings.TrimSuffix(id, "/"+suffixes[kind])
			return kind, id, true
		}
	}
	return 0, "", false
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return i == len(fp)-1
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
