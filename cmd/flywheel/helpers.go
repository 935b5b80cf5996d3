package main

import (
	"sort"
	"strconv"
	"strings"
)

// runStatusOrder fixes queue table ordering so pending work sorts first.
var runStatusOrder = []string{"pending", "running", "succeeded", "failed", "cancelled"}

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(stats))
	rows := make([][]string, 0, len(stats))
	for _, status := range runStatusOrder {
		if count, ok := stats[status]; ok {
			rows = append(rows, []string{status, strconv.Itoa(count)})
			seen[status] = true
		}
	}

	rest := make([]string, 0)
	for status := range stats {
		if !seen[status] {
			rest = append(rest, status)
		}
	}
	sort.Strings(rest)
	for _, status := range rest {
		rows = append(rows, []string{status, strconv.Itoa(stats[status])})
	}
	return rows
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
