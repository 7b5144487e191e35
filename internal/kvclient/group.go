package kvclient

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ReadGroup reads a group's membership key and parses it into a sorted,
// deduplicated member list, validating the invariant that the stored value
// always already is sorted and duplicate-free.
func (c *Client) ReadGroup(ctx context.Context, group string) (members []string, raw string, found bool, err error) {
	raw, found, err = c.Read(ctx, group)
	if err != nil || !found || raw == "" {
		return nil, raw, found, err
	}

	members = strings.Fields(raw)
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	for i := range sorted {
		if sorted[i] != members[i] {
			return nil, raw, true, fmt.Errorf("kv group %q membership not sorted: %q", group, raw)
		}
		if i > 0 && sorted[i] == sorted[i-1] {
			return nil, raw, true, fmt.Errorf("kv group %q membership has duplicate %q", group, sorted[i])
		}
	}
	return members, raw, true, nil
}
