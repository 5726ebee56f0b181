package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/encuesta/internal/adapters/repository"
	"github.com/okian/encuesta/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func record(id, contact, concept string, eligible bool, date string) model.EligibilityRecord {
	return model.EligibilityRecord{
		ID:          id,
		ContactID:   contact,
		Concept:     concept,
		Eligible:    eligible,
		CreatedAt:   time.Now(),
		ControlDate: date,
	}
}

func TestMemoryStore(t *testing.T) {
	Convey("Given an empty MemoryStore", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()
		const day = "2024-03-10"

		Convey("When a record is inserted", func() {
			So(s.InsertRecord(ctx, record("d1", "c1", "PUMA", true, day)), ShouldBeNil)

			Convey("Then it exists and counts", func() {
				found, err := s.Exists(ctx, "d1")
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)

				n, _ := s.CountEligible(ctx, "PUMA", day)
				So(n, ShouldEqual, 1)
				n, _ = s.CountEligibleForContact(ctx, "c1", day)
				So(n, ShouldEqual, 1)
				n, _ = s.CountEligible(ctx, "PUMA", "2024-03-11")
				So(n, ShouldEqual, 0)
			})

			Convey("Then a second insert is a duplicate", func() {
				err := s.InsertRecord(ctx, record("d1", "c1", "PUMA", false, day))
				So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
				So(s.RecordCount(), ShouldEqual, 1)
				rec, _ := s.Record("d1")
				So(rec.Eligible, ShouldBeTrue)
			})
		})

		Convey("When ineligible records are inserted", func() {
			So(s.InsertRecord(ctx, record("d2", "c1", "PUMA", false, day)), ShouldBeNil)

			Convey("Then they are not counted", func() {
				n, _ := s.CountEligible(ctx, "PUMA", day)
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When counters are incremented", func() {
			So(s.IncrementCounter(ctx, "A", day, 2), ShouldBeNil)
			So(s.IncrementCounter(ctx, "A", day, 2), ShouldBeNil)
			So(s.IncrementCounter(ctx, "B", day, 5), ShouldBeNil)
			So(s.IncrementCounter(ctx, "A", "2024-03-11", 2), ShouldBeNil)

			Convey("Then the daily report lists them by concept", func() {
				counters, err := s.DailyCounters(ctx, day)
				So(err, ShouldBeNil)
				So(counters, ShouldResemble, []model.ConceptCounter{
					{Concept: "A", LogDate: day, CurrentCount: 2, Limit: 2},
					{Concept: "B", LogDate: day, CurrentCount: 1, Limit: 5},
				})
			})
		})

		Convey("When a transaction fails", func() {
			boom := errors.New("boom")
			err := s.Tx(ctx, func(o repository.Ops) error {
				So(o.IncrementCounter(ctx, "A", day, 2), ShouldBeNil)
				So(o.InsertRecord(ctx, record("d3", "", "A", true, day)), ShouldBeNil)
				found, _ := o.Exists(ctx, "d3")
				So(found, ShouldBeTrue)
				return boom
			})

			Convey("Then nothing is applied", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(s.RecordCount(), ShouldEqual, 0)
				counters, _ := s.DailyCounters(ctx, day)
				So(counters, ShouldBeEmpty)
			})
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)

			Convey("Then every call fails with ErrClosed", func() {
				So(errors.Is(s.Ping(ctx), repository.ErrClosed), ShouldBeTrue)
				_, err := s.Exists(ctx, "d1")
				So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
				_, err = s.DailyCounters(ctx, day)
				So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(s.InsertRecord(cctx, record("d4", "", "A", true, day)), ShouldEqual, context.Canceled)
		})
	})
}

func TestMemoryStoreConcurrentInsert(t *testing.T) {
	Convey("Given concurrent inserts of the same ids", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()

		var wg sync.WaitGroup
		var mu sync.Mutex
		dups := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.Tx(ctx, func(o repository.Ops) error {
					if err := o.IncrementCounter(ctx, "A", "2024-03-10", 100); err != nil {
						return err
					}
					return o.InsertRecord(ctx, record(fmt.Sprintf("d%d", i%5), "", "A", true, "2024-03-10"))
				})
				if errors.Is(err, repository.ErrDuplicate) {
					mu.Lock()
					dups++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		Convey("Then each id is stored once and duplicates never count", func() {
			So(s.RecordCount(), ShouldEqual, 5)
			So(dups, ShouldEqual, 45)
			counters, _ := s.DailyCounters(ctx, "2024-03-10")
			So(counters, ShouldHaveLength, 1)
			So(counters[0].CurrentCount, ShouldEqual, 5)
		})
	})
}
