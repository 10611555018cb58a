//go:build property

package batch

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/excerpt/internal/clock"
)

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestCoordinatorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("one window makes one fetch of the distinct ids", prop.ForAll(
		func(ids []string) bool {
			clk := clock.Fake(t0)
			f := newFakeFetcher()
			c := New(f, Options{Clock: clk})
			defer c.Close()

			distinct := map[string]bool{}
			var outs []<-chan outcome
			for _, id := range ids {
				distinct[id] = true
				outs = append(outs, request(context.Background(), c, id))
			}
			if !waitUntil(func() bool { return c.Stats().Requests == int64(len(ids)) }) {
				return false
			}
			if c.Pending() != len(distinct) {
				return false
			}

			clk.Advance(DefaultInitialWindow)
			for _, ch := range outs {
				o := <-ch
				if o.err != nil || o.text != o.id {
					return false
				}
			}

			calls := f.Calls()
			if len(calls) != 1 || len(calls[0]) != len(distinct) {
				return false
			}
			got := append([]string(nil), calls[0]...)
			sort.Strings(got)
			for i := 1; i < len(got); i++ {
				if got[i] == got[i-1] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.OneConstOf("a", "b", "c", "d", "e")).SuchThat(func(ids []string) bool {
			return len(ids) > 0
		}),
	))

	properties.TestingRun(t)
}
