package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/exp/slices"
	"time"
)

// Point is one metric stream value
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`

	// Count is the number of observations of a histogram; Value is then
	// their sum
	Count uint64 `json:"count,omitempty"`
}

// Snapshot holds the values of all instruments at one moment, ordered by
// name and attributes
type Snapshot struct {
	Taken  time.Time `json:"taken"`
	Points []Point   `json:"points"`
}

// Snapshot collects the current values
func (m *Metrics) Snapshot(ctx context.Context) (Snapshot, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return Snapshot{}, fmt.Errorf("failed to collect metrics: %w", err)
	}

	s := Snapshot{Taken: time.Now()}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					s.Points = append(s.Points, Point{Name: md.Name, Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					s.Points = append(s.Points, Point{Name: md.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					s.Points = append(s.Points, Point{Name: md.Name, Attributes: attrMap(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}
	slices.SortFunc(s.Points, func(a, b Point) bool {
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.key() < b.key()
	})
	return s, nil
}

// Value returns the value of the named stream whose attributes include the
// given key=value pairs, and whether there is one
func (s Snapshot) Value(name string, attrs ...string) (float64, bool) {
	p, ok := s.find(name, attrs)
	return p.Value, ok
}

// Count returns the observation count of the named histogram stream
func (s Snapshot) Count(name string, attrs ...string) (uint64, bool) {
	p, ok := s.find(name, attrs)
	return p.Count, ok
}

func (s Snapshot) find(name string, attrs []string) (Point, bool) {
	for _, p := range s.Points {
		if p.Name == name && p.matches(attrs) {
			return p, true
		}
	}
	return Point{}, false
}

func (p Point) matches(attrs []string) bool {
	for _, kv := range attrs {
		k, v, _ := strings.Cut(kv, "=")
		if p.Attributes[k] != v {
			return false
		}
	}
	return true
}

func (p Point) key() string {
	pairs := make([]string, 0, len(p.Attributes))
	for k, v := range p.Attributes {
		pairs = append(pairs, k+"="+v)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, ",")
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	m := make(map[string]string, set.Len())
	for iter := set.Iter(); iter.Next(); {
		kv := iter.Attribute()
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func sinceSeconds(t time.Time) float64 {
	return time.Since(t).Seconds()
}
