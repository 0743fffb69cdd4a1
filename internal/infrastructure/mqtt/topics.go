package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots used by the bridge.
const (
	// TopicPrefixBridge is the base for the bridge's own status topics.
	TopicPrefixBridge = "venusbridge"

	// TopicSelf is the Signal K tree of the own vessel, one topic per path.
	TopicSelf = "vessels/self"

	// TopicDelta carries full Signal K delta documents.
	TopicDelta = "signalk/delta"
)

// Topics provides builders for the MQTT topics the bridge uses.
// Using these helpers keeps prefix handling in one place:
//
//	topics := mqtt.Topics{}
//	topics.SignalKPath("boat/", "electrical.batteries.house.voltage")
//	// Returns: "boat/vessels/self/electrical/batteries/house/voltage"
type Topics struct{}

// BridgeStatus returns the retained online/offline status topic of a bridge client.
//
// Example: venusbridge/venusbridge-01/status
func (Topics) BridgeStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixBridge, clientID)
}

// SignalKSelf returns the wildcard subscription for every self path.
//
// Pattern: {prefix}vessels/self/#
func (Topics) SignalKSelf(prefix string) string {
	return prefix + TopicSelf + "/#"
}

// SignalKDelta returns the topic carrying delta documents.
//
// Example: {prefix}signalk/delta
func (Topics) SignalKDelta(prefix string) string {
	return prefix + TopicDelta
}

// SignalKPut returns the topic PUT requests are published to.
func (Topics) SignalKPut(prefix, putTopic string) string {
	return prefix + strings.Trim(putTopic, "/")
}

// SignalKPath returns the per-path topic of a dotted Signal K path.
func (Topics) SignalKPath(prefix, path string) string {
	return prefix + TopicSelf + "/" + strings.ReplaceAll(path, ".", "/")
}

// PathFromTopic converts a per-path topic back into a dotted Signal K path.
// ok is false if the topic is not below {prefix}vessels/self/.
func (Topics) PathFromTopic(prefix, topic string) (path string, ok bool) {
	root := prefix + TopicSelf + "/"
	if !strings.HasPrefix(topic, root) {
		return "", false
	}
	rest := strings.Trim(strings.TrimPrefix(topic, root), "/")
	if rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", "."), true
}
