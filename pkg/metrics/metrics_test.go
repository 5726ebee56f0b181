package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.eventsTotal.WithLabelValues("done").Inc()

			Convey("Then collectors are registered under the namespace", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_unit_events_total")
			})
		})

		Convey("When empty options are passed", func() {
			manager := NewManager(WithNamespace(""), WithSubsystem(""), WithPrometheusRegistry(registry))

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "encuesta")
				So(manager.subsystem, ShouldEqual, "eligibility")
			})
		})
	})
}

func TestRecordHelpers(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording pipeline events", func() {
			before := counterValue(globalManager.eventsTotal.WithLabelValues("skipped_no_concept"))
			RecordEvent("skipped_no_concept", 12)
			RecordEvent("skipped_no_concept", 3)

			Convey("Then the status counter grows", func() {
				So(counterValue(globalManager.eventsTotal.WithLabelValues("skipped_no_concept")), ShouldEqual, before+2)
			})
		})

		Convey("When recording decisions", func() {
			before := counterValue(globalManager.eligibleTotal.WithLabelValues("PUMA", "true"))
			RecordDecision("PUMA", true)
			RecordDecision("PUMA", false)

			Convey("Then eligible and ineligible are split", func() {
				So(counterValue(globalManager.eligibleTotal.WithLabelValues("PUMA", "true")), ShouldEqual, before+1)
			})
		})

		Convey("When a store operation fails", func() {
			before := counterValue(globalManager.storeErrors.WithLabelValues("exists"))
			RecordStoreOperation("exists", 1, errors.New("boom"))
			RecordStoreOperation("exists", 1, nil)

			Convey("Then only the failure is counted as an error", func() {
				So(counterValue(globalManager.storeErrors.WithLabelValues("exists")), ShouldEqual, before+1)
			})
		})

		Convey("When recording the remaining helpers", func() {
			So(func() {
				RecordBatch(10, 1500)
				RecordChunk()
				RecordInflightDuplicate()
				RecordCRMRequest("resolve", "ok", 40)
				RecordLockWait(2)
				RecordHTTPRequest("/webhook", "POST", "200")
				RecordHTTPRequestDuration("/webhook", "POST", "200", 20)
				RecordError("crm", "timeout")
			}, ShouldNotPanic)
		})

		Convey("When fetching the registry", func() {
			Convey("Then it is the custom one", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}
