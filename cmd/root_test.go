package cmd

import (
	"reflect"
	"testing"
)

func TestCycleModels(t *testing.T) {
	cases := []struct {
		name     string
		models   string
		count    int
		fallback string
		want     []string
	}{
		{"fallback when empty", "", 3, "bm1370_4chip",
			[]string{"bm1370_4chip", "bm1370_4chip", "bm1370_4chip"}},
		{"cycles across list", "a,b", 5, "x",
			[]string{"a", "b", "a", "b", "a"}},
		{"trims whitespace and empties", " a , ,b,", 2, "x",
			[]string{"a", "b"}},
		{"count floor of one", "a", 0, "x",
			[]string{"a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cycleModels(tc.models, tc.count, tc.fallback)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("cycleModels(%q, %d, %q) = %v, want %v",
					tc.models, tc.count, tc.fallback, got, tc.want)
			}
		})
	}
}
