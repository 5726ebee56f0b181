package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/encuesta/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		Convey("When claiming a new id", func() {
			seen, recorded := d.SeenAndRecord(ctx, "deal-1")

			Convey("Then it is claimed", func() {
				So(seen, ShouldBeFalse)
				So(recorded, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When claiming an id twice", func() {
			d.SeenAndRecord(ctx, "deal-1")
			seen, recorded := d.SeenAndRecord(ctx, "deal-1")

			Convey("Then the second claim reports it in flight", func() {
				So(seen, ShouldBeTrue)
				So(recorded, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a claim is released", func() {
			d.SeenAndRecord(ctx, "deal-1")
			d.Unrecord(ctx, "deal-1")

			Convey("Then the id can be claimed again", func() {
				So(d.Size(), ShouldEqual, 0)
				seen, _ := d.SeenAndRecord(ctx, "deal-1")
				So(seen, ShouldBeFalse)
			})
		})

		Convey("When releasing an unknown id", func() {
			d.Unrecord(ctx, "ghost")
			So(d.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given a bounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
		d.SeenAndRecord(ctx, "a")
		d.SeenAndRecord(ctx, "b")

		Convey("When it is full", func() {
			seen, recorded := d.SeenAndRecord(ctx, "c")

			Convey("Then new ids pass unclaimed", func() {
				So(seen, ShouldBeFalse)
				So(recorded, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 2)
				again, _ := d.SeenAndRecord(ctx, "c")
				So(again, ShouldBeFalse)
			})
		})
	})
}

func TestInMemoryDeduperConcurrency(t *testing.T) {
	Convey("Given many goroutines claiming the same ids", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))

		var winners atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, recorded := d.SeenAndRecord(ctx, fmt.Sprintf("deal-%d", i%10)); recorded {
					winners.Add(1)
				}
			}(i)
		}
		wg.Wait()

		Convey("Then exactly one claim per id wins", func() {
			So(winners.Load(), ShouldEqual, 10)
			So(d.Size(), ShouldEqual, 10)
		})
	})
}
