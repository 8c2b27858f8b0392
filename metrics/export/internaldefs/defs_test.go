package internaldefs

import (
	"reflect"
	"strings"
	"testing"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
)

func TestFamiliesCoverEveryCounterOnce(t *testing.T) {
	seen := make(map[authflow.MetricID]string, authflow.MetricIDCount)
	names := make(map[string]bool, len(Families))
	for _, fam := range Families {
		if names[fam.Name] {
			t.Fatalf("family %s defined twice", fam.Name)
		}
		names[fam.Name] = true
		if !strings.HasPrefix(fam.Name, "authflow_") || !strings.HasSuffix(fam.Name, "_total") {
			t.Fatalf("unexpected family name %s", fam.Name)
		}
		if fam.Label == "" && len(fam.Samples) != 1 {
			t.Fatalf("%s has no label but %d samples", fam.Name, len(fam.Samples))
		}
		values := map[string]bool{}
		for _, s := range fam.Samples {
			if prev, ok := seen[s.ID]; ok {
				t.Fatalf("metric %d exported by %s and %s", s.ID, prev, fam.Name)
			}
			seen[s.ID] = fam.Name
			if values[s.Value] {
				t.Fatalf("%s repeats label value %q", fam.Name, s.Value)
			}
			values[s.Value] = true
		}
	}
	seen[StepLatency.ID] = StepLatency.Name
	for id := 0; id < authflow.MetricIDCount; id++ {
		if _, ok := seen[authflow.MetricID(id)]; !ok {
			t.Fatalf("metric %d has no export definition", id)
		}
	}
}

func TestCredentialFailuresUseStepNames(t *testing.T) {
	for _, fam := range Families {
		if fam.Label != LabelStep {
			continue
		}
		for _, s := range fam.Samples {
			switch s.Value {
			case "password", "code", "twoFactor", "backupCode":
			default:
				t.Fatalf("unexpected step label %q", s.Value)
			}
		}
	}
}

func TestBucketBounds(t *testing.T) {
	want := []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}
	if got := BucketBounds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCumulative(t *testing.T) {
	got := Cumulative([]uint64{1, 2, 3})
	want := []uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := Cumulative(make([]uint64, BucketCount+3)); len(got) != BucketCount {
		t.Fatalf("extra buckets must be dropped, got %d", len(got))
	}
}
