package crm_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/okian/encuesta/internal/adapters/crm"
	"github.com/okian/encuesta/internal/domain/model"
	"github.com/okian/encuesta/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeHubSpot struct {
	mu       sync.Mutex
	deals    map[string]string // id -> deal JSON
	contacts map[string]string // id -> associations JSON
	patches  map[string]string // id -> flag value
	auth     []string
	assocErr int
}

func newFakeHubSpot() *fakeHubSpot {
	return &fakeHubSpot{
		deals:    map[string]string{},
		contacts: map[string]string{},
		patches:  map[string]string{},
	}
}

func (f *fakeHubSpot) set(fn func(f *fakeHubSpot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeHubSpot) read(fn func(f *fakeHubSpot)) { f.set(fn) }

func (f *fakeHubSpot) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /crm/v3/objects/deals/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		if r.URL.Query().Get("properties") != "concepto,closedate" {
			http.Error(w, "bad properties", http.StatusBadRequest)
			return
		}
		body, ok := f.deals[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"status":"error","category":"OBJECT_NOT_FOUND"}`, http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("GET /crm/v4/objects/deals/{id}/associations/contacts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.assocErr != 0 {
			w.WriteHeader(f.assocErr)
			return
		}
		body, ok := f.contacts[r.PathValue("id")]
		if !ok {
			_, _ = io.WriteString(w, `{"results":[]}`)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("PATCH /crm/v3/objects/deals/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Properties map[string]string `json:"properties"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.deals[r.PathValue("id")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.patches[r.PathValue("id")] = in.Properties["enviar_encuesta"]
		_, _ = io.WriteString(w, `{}`)
	})
	return mux
}

func TestClientResolve(t *testing.T) {
	Convey("Given a HubSpot stub", t, func() {
		ctx := context.Background()
		hub := newFakeHubSpot()
		srv := httptest.NewServer(hub.handler())
		defer srv.Close()
		client := crm.NewClient(srv.URL+"/", crm.WithToken("pat-123"), crm.WithRateLimit(0, 0))

		Convey("When the deal is fully qualified", func() {
			hub.set(func(f *fakeHubSpot) { f.deals["101"] = `{"id":"101","properties":{"concepto":" puma ","closedate":"2024-03-09T18:30:00.000Z"}}` })
			hub.set(func(f *fakeHubSpot) { f.contacts["101"] = `{"results":[{"toObjectId":5551,"associationTypes":[]},{"toObjectId":5552}]}` })

			meta, err := client.Resolve(ctx, "101")

			Convey("Then concept, close date and first contact are returned", func() {
				So(err, ShouldBeNil)
				So(meta.Concept, ShouldEqual, "puma")
				So(meta.CloseDate.Equal(time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)), ShouldBeTrue)
				So(meta.ContactID, ShouldEqual, "5551")
				hub.read(func(f *fakeHubSpot) {
					So(f.auth[0], ShouldEqual, "Bearer pat-123")
				})
			})
		})

		Convey("When the deal has no concept, date or contact", func() {
			hub.set(func(f *fakeHubSpot) { f.deals["102"] = `{"id":"102","properties":{"concepto":null}}` })

			meta, err := client.Resolve(ctx, "102")

			Convey("Then the metadata is empty but not an error", func() {
				So(err, ShouldBeNil)
				So(meta.Concept, ShouldBeEmpty)
				So(meta.CloseDate.IsZero(), ShouldBeTrue)
				So(meta.ContactID, ShouldBeEmpty)
			})
		})

		Convey("When the deal does not exist", func() {
			_, err := client.Resolve(ctx, "404")

			Convey("Then the error wraps model.ErrNotFound", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the association call fails", func() {
			hub.set(func(f *fakeHubSpot) { f.deals["103"] = `{"id":"103","properties":{"concepto":"TAF"}}` })
			hub.set(func(f *fakeHubSpot) { f.assocErr = http.StatusInternalServerError })

			_, err := client.Resolve(ctx, "103")

			Convey("Then a transient status error is returned", func() {
				var se *crm.StatusError
				So(errors.As(err, &se), ShouldBeTrue)
				So(se.Code, ShouldEqual, http.StatusInternalServerError)
				So(errors.Is(err, crm.ErrUnexpectedStatus), ShouldBeTrue)
				So(errors.Is(err, model.ErrNotFound), ShouldBeFalse)
			})
		})

		Convey("When the association endpoint reports 404", func() {
			hub.set(func(f *fakeHubSpot) { f.deals["104"] = `{"id":"104","properties":{"concepto":"TAF"}}` })
			hub.set(func(f *fakeHubSpot) { f.assocErr = http.StatusNotFound })

			meta, err := client.Resolve(ctx, "104")

			Convey("Then the deal simply has no contact", func() {
				So(err, ShouldBeNil)
				So(meta.ContactID, ShouldBeEmpty)
				So(meta.Concept, ShouldEqual, "TAF")
			})
		})
	})
}

func TestClientPublish(t *testing.T) {
	Convey("Given a HubSpot stub", t, func() {
		ctx := context.Background()
		hub := newFakeHubSpot()
		hub.set(func(f *fakeHubSpot) { f.deals["201"] = `{"id":"201","properties":{}}` })
		hub.set(func(f *fakeHubSpot) { f.deals["202"] = `{"id":"202","properties":{}}` })
		srv := httptest.NewServer(hub.handler())
		defer srv.Close()
		client := crm.NewClient(srv.URL, crm.WithRateLimit(100, 5), crm.WithTimeout(time.Second))

		Convey("When publishing both outcomes", func() {
			So(client.Publish(ctx, "201", true), ShouldBeNil)
			So(client.Publish(ctx, "202", false), ShouldBeNil)

			Convey("Then SI and NO are written to the flag property", func() {
				hub.read(func(f *fakeHubSpot) {
					So(f.patches["201"], ShouldEqual, crm.FlagEligible)
					So(f.patches["202"], ShouldEqual, crm.FlagNotEligible)
				})
			})
		})

		Convey("When the deal is gone", func() {
			err := client.Publish(ctx, "999", true)
			So(errors.Is(err, crm.ErrUnexpectedStatus), ShouldBeTrue)
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(client.Publish(cctx, "201", true), ShouldNotBeNil)
		})
	})
}

func TestClientLogsFailures(t *testing.T) {
	Convey("Given a client logging to a buffer", t, func() {
		ctx := context.Background()
		var buf bytes.Buffer
		So(logger.Init(logger.WithFormat("json"), logger.WithOutput(&buf)), ShouldBeNil)
		hub := newFakeHubSpot()
		hub.set(func(f *fakeHubSpot) { f.deals["301"] = `{"id":"301","properties":{"concepto":"TAF"}}` })
		hub.set(func(f *fakeHubSpot) { f.assocErr = http.StatusBadGateway })
		srv := httptest.NewServer(hub.handler())
		defer srv.Close()
		client := crm.NewClient(srv.URL, crm.WithRateLimit(0, 0), crm.WithLogger(logger.Named("crm")))

		Convey("When the CRM answers with a server error", func() {
			_, err := client.Resolve(ctx, "301")
			So(err, ShouldNotBeNil)

			var line map[string]any
			So(json.Unmarshal(buf.Bytes(), &line), ShouldBeNil)

			Convey("Then a warning names the operation and status", func() {
				So(line["level"], ShouldEqual, "WARN")
				So(line["component"], ShouldEqual, "crm")
				So(line["op"], ShouldEqual, "get_associations")
				So(line["status"], ShouldEqual, float64(http.StatusBadGateway))
			})
		})

		Convey("When the CRM cannot be reached", func() {
			srv.Close()
			_, err := client.Resolve(ctx, "301")
			So(err, ShouldNotBeNil)

			Convey("Then the transport error is logged", func() {
				So(buf.String(), ShouldContainSubstring, "crm request failed")
				So(buf.String(), ShouldContainSubstring, `"op":"get_deal"`)
			})
		})
	})
}

func TestParseCloseDate(t *testing.T) {
	Convey("Given close date encodings", t, func() {
		want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
		So(crm.ParseCloseDate("2024-03-09").Equal(want), ShouldBeTrue)
		So(crm.ParseCloseDate("2024-03-09T00:00:00Z").Equal(want), ShouldBeTrue)
		So(crm.ParseCloseDate("1709942400000").Equal(want), ShouldBeTrue)
		So(crm.ParseCloseDate("next tuesday").IsZero(), ShouldBeTrue)
		So(crm.ParseCloseDate("").IsZero(), ShouldBeTrue)

		Convey("Only a bare date is a calendar day", func() {
			So(model.IsCalendarDay(crm.ParseCloseDate("2024-03-09")), ShouldBeTrue)
			So(model.IsCalendarDay(crm.ParseCloseDate("2024-03-09T00:00:00Z")), ShouldBeFalse)
			So(model.IsCalendarDay(crm.ParseCloseDate("1709942400000")), ShouldBeFalse)
		})
	})
}
