package notify

import "strings"

// Match reports whether sub receives events addressed to target.
//
// The subscription path must prefix the target channel. A scoped
// subscription also needs its object id to equal the target's id of that
// scope, when the target carries one. A target container type must equal
// the subscription's, when the subscription has one.
func Match(sub Subscription, target TargetChannel) bool {
	if !strings.HasPrefix(target.Channel, sub.Path) {
		return false
	}

	var id string
	switch sub.LimitedBy {
	case LimitedByContainer:
		id = target.ContainerID
	case LimitedByContext:
		id = target.ContextID
	case LimitedByItem:
		id = target.ItemID
	}
	if id != "" && id != sub.ObjectID {
		return false
	}

	if target.ContainerType != "" && sub.ContainerType != "" && target.ContainerType != sub.ContainerType {
		return false
	}
	return true
}

// MatchAll returns the ids of every subscription in subs matching target
// and the lowest protocol version among them.
func MatchAll(subs []Subscription, target TargetChannel) (ids []string, minVersion int, ok bool) {
	for _, sub := range subs {
		if !Match(sub, target) {
			continue
		}
		ids = append(ids, sub.ID)
		if !ok || sub.Version < minVersion {
			minVersion = sub.Version
		}
		ok = true
	}
	return ids, minVersion, ok
}

// MatchSession matches target against the active subscriptions of s.
func MatchSession(s *Session, target TargetChannel) (ids []string, minVersion int, ok bool) {
	return MatchAll(s.Subscriptions(), target)
}
