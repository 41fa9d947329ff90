package combat

// AddTags returns current with every tag in tags appended that is not
// already present. Existing order is preserved.
func AddTags(current, tags []string) []string {
	out := make([]string, 0, len(current)+len(tags))
	seen := make(map[string]struct{}, len(current)+len(tags))
	for _, t := range current {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// RemoveTags returns current without any occurrence of the tags in tags.
func RemoveTags(current, tags []string) []string {
	drop := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		drop[t] = struct{}{}
	}
	out := make([]string, 0, len(current))
	for _, t := range current {
		if _, ok := drop[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// HasTag reports whether tag is in current.
func HasTag(current []string, tag string) bool {
	for _, t := range current {
		if t == tag {
			return true
		}
	}
	return false
}
