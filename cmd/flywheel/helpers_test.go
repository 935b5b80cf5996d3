package main

import (
	"reflect"
	"testing"
)

func TestBuildQueueStatusRows(t *testing.T) {
	rows := buildQueueStatusRows(map[string]int{
		"failed":  2,
		"pending": 1,
		"odd":     3,
	})
	want := [][]string{
		{"pending", "1"},
		{"failed", "2"},
		{"odd", "3"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("unexpected rows: %v", rows)
	}

	if rows := buildQueueStatusRows(nil); rows != nil {
		t.Fatalf("expected nil rows for empty stats, got %v", rows)
	}
}

func TestMatrixLabel(t *testing.T) {
	if got := matrixLabel(nil); got != "-" {
		t.Fatalf("expected dash for empty matrix, got %q", got)
	}
	got := matrixLabel(map[string]string{"python-version": "3.10", "os": "linux"})
	if got != "os=linux, python-version=3.10" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("unexpected short id %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("unexpected short id %q", got)
	}
}
