// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
	"time"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// Clamp limits v to the closed interval [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UniqueString returns the unique elements of a string slice,
// preserving first-seen order
func UniqueString(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SecsToDuration converts a number of seconds to a time.Duration
func SecsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// GetBit returns the value of a given bit in a byte
func GetBit(b byte, bitIndex uint) bool {
	return (b>>bitIndex)&1 != 0
}

// SetBit returns b with the given bit set to v
func SetBit(b byte, bitIndex uint, v bool) byte {
	if v {
		return b | (1 << bitIndex)
	}
	return b &^ (1 << bitIndex)
}
