package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.jpl.nasa.gov/bdube/thermacq/util"
)

func ExampleSetBit_msb() {
	out := util.SetBit(0, 7, true)
	fmt.Printf("%08b\n", out)
	// Output: 10000000
}

func ExampleSetBit_lsb() {
	out := util.SetBit(255, 0, false)
	fmt.Printf("%08b\n", out)
	// Output: 11111110
}

func TestUniqueString(t *testing.T) {
	inp := []string{"a", "b", "c", "a"}
	expected := []string{"a", "b", "c"}
	output := util.UniqueString(inp)
	if len(output) != len(expected) {
		t.Fatalf("expected %d elements, got %d", len(expected), len(output))
	}
	for i := 0; i < len(output); i++ {
		if output[i] != expected[i] {
			t.Errorf("expected %s got %s", expected[i], output[i])
		}
	}
}

func TestIntSliceToCSV(t *testing.T) {
	inp := []int{1, 2, 3}
	expected := "1,2,3"
	out := util.IntSliceToCSV(inp)
	if out != expected {
		t.Errorf("expected %s got %s", expected, out)
	}
}

func TestClampHigh(t *testing.T) {
	out := util.Clamp(300, 0, 255)
	if out != 255 {
		t.Errorf("expected 255 got %f", out)
	}
}

func TestClampLow(t *testing.T) {
	out := util.Clamp(-10, 0, 255)
	if out != 0 {
		t.Errorf("expected 0 got %f", out)
	}
}

func TestClampPassThrough(t *testing.T) {
	out := util.Clamp(100, 0, 255)
	if out != 100 {
		t.Errorf("expected 100 got %f", out)
	}
}

func TestSecsToDuration(t *testing.T) {
	if d := util.SecsToDuration(1.5); d != 1500*time.Millisecond {
		t.Errorf("expected 1.5s got %v", d)
	}
}

func TestGetBit(t *testing.T) {
	if !util.GetBit(0b1000, 3) {
		t.Error("bit 3 of 0b1000 read as unset")
	}
	if util.GetBit(0b1000, 2) {
		t.Error("bit 2 of 0b1000 read as set")
	}
}
