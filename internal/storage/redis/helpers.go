package redis

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePeriodMember splits a sorted set member "{id}:{minutes}".
func parsePeriodMember(member string) (id int64, minutes int64, err error) {
	idPart, minutesPart, ok := strings.Cut(member, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed period member %q", member)
	}

	id, err = strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse period id: %w", err)
	}

	minutes, err = strconv.ParseInt(minutesPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse period length: %w", err)
	}

	return id, minutes, nil
}

// sumMembers totals the minutes encoded in a list of period members.
func sumMembers(members []string) (int64, error) {
	var total int64
	for _, member := range members {
		_, minutes, err := parsePeriodMember(member)
		if err != nil {
			return 0, err
		}
		total += minutes
	}
	return total, nil
}
