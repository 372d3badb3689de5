package can

// Filter reports whether a frame should be kept.
type Filter func(f RawFrame) bool

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) Filter {
	return func(f RawFrame) bool { return f.ID == id }
}

// ByIDs returns a filter that matches any of the provided identifiers.
func ByIDs(ids ...uint32) Filter {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return func(f RawFrame) bool {
		_, ok := m[f.ID]
		return ok
	}
}

// ByBus returns a filter that matches frames captured on any of the given buses.
func ByBus(buses ...uint8) Filter {
	m := make(map[uint8]struct{}, len(buses))
	for _, b := range buses {
		m[b] = struct{}{}
	}
	return func(f RawFrame) bool {
		_, ok := m[f.Bus]
		return ok
	}
}

// DataOnly matches non-RTR frames.
func DataOnly() Filter {
	return func(f RawFrame) bool { return !f.IsRemote }
}

// And composes two filters; the result matches when both match.
func And(a, b Filter) Filter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f RawFrame) bool { return a(f) && b(f) }
	}
}

// Or composes two filters; the result matches when either matches.
func Or(a, b Filter) Filter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f RawFrame) bool { return a(f) || b(f) }
	}
}

// Not inverts a filter. A nil filter keeps everything, so Not(nil) keeps nothing.
func Not(a Filter) Filter {
	if a == nil {
		return func(RawFrame) bool { return false }
	}
	return func(f RawFrame) bool { return !a(f) }
}

// Apply returns the frames matching the filter. A nil filter keeps everything.
func Apply(frames []RawFrame, filter Filter) []RawFrame {
	if filter == nil {
		return frames
	}
	out := make([]RawFrame, 0, len(frames))
	for _, f := range frames {
		if filter(f) {
			out = append(out, f)
		}
	}
	return out
}
