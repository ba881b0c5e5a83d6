package bus

import "strings"

const marketSegment = "market"

// Topic returns the per-symbol topic <namespace>/market/<baseSymbol>
func Topic(namespace, symbol string) string {
	return namespace + "/" + marketSegment + "/" + symbol
}

// Pattern returns the logical wildcard subscription for every tracked
// symbol, where "+" matches exactly one topic segment.
func Pattern(namespace string) string {
	return Topic(namespace, "+")
}

// redisPattern is Pattern expressed as a Redis PSUBSCRIBE glob. Redis "*"
// also matches "/", so SymbolFromTopic enforces the single segment.
func redisPattern(namespace string) string {
	return Topic(namespace, "*")
}

// SymbolFromTopic extracts the symbol segment of a market topic. It
// reports false when the topic is outside the namespace or the final
// segment is empty or spans more than one segment.
func SymbolFromTopic(namespace, topic string) (string, bool) {
	prefix := Topic(namespace, "")
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	symbol := topic[len(prefix):]
	if symbol == "" || strings.Contains(symbol, "/") {
		return "", false
	}
	return symbol, true
}
