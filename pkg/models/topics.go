package models

import "strings"

// Classification is the ordered set of topics an item was matched to.
// An empty classification means no topic matched.
type Classification []string

// Matching returns the topics of c that are also in selected, in c's order.
func (c Classification) Matching(selected TopicSet) []string {
	var out []string
	for _, topic := range c {
		if selected.Contains(topic) {
			out = append(out, topic)
		}
	}
	return out
}

// Intersects reports whether any topic of c is selected.
func (c Classification) Intersects(selected TopicSet) bool {
	for _, topic := range c {
		if selected.Contains(topic) {
			return true
		}
	}
	return false
}

// TopicSet is an ordered list of topic names with set membership semantics.
type TopicSet []string

// Contains reports whether topic is in the set.
func (t TopicSet) Contains(topic string) bool {
	for _, existing := range t {
		if existing == topic {
			return true
		}
	}
	return false
}

// Normalize trims names, drops empties and duplicates, keeping first occurrence order.
func (t TopicSet) Normalize() TopicSet {
	out := make(TopicSet, 0, len(t))
	for _, topic := range t {
		topic = strings.TrimSpace(topic)
		if topic == "" || out.Contains(topic) {
			continue
		}
		out = append(out, topic)
	}
	return out
}

// Equal reports whether both sets hold the same topics in the same order.
func (t TopicSet) Equal(other TopicSet) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// Added returns the topics in next that are not in prev, in next's order.
func Added(prev, next TopicSet) TopicSet {
	var added TopicSet
	for _, topic := range next {
		if !prev.Contains(topic) && !added.Contains(topic) {
			added = append(added, topic)
		}
	}
	return added
}
