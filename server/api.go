package server

import (
	"net/http"
	"os"
	"time"

	"github.com/cyclopcam/behave/server/eventdb"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// Maximum number of events returned by one request
const maxEventsPerRequest = 1000

func (s *Server) setupHttpRoutes() error {
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, h)
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/status", s.httpStatus)
	handle("GET", "/api/config", s.httpConfig)
	handle("GET", "/api/events", s.httpEvents)
	handle("GET", "/api/history", s.httpHistory)
	handle("GET", "/api/summary", s.httpSummary)
	handle("GET", "/api/notifications", s.httpNotifications)

	s.httpRouter = router
	s.httpServer = &http.Server{
		Handler: router,
	}
	return nil
}

type pingJSON struct {
	Greeting string `json:"greeting"`
	Hostname string `json:"hostname"`
	Time     int64  `json:"time"`
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	hostname, _ := os.Hostname()
	www.SendJSON(w, &pingJSON{
		Greeting: "I am Behave",
		Hostname: hostname,
		Time:     time.Now().Unix(),
	})
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	st := s.Monitor.Status()
	www.SendJSON(w, &st)
}

func (s *Server) httpConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	// Don't leak passwords
	c := *s.Config
	if c.MQTT.Password != "" {
		c.MQTT.Password = "********"
	}
	if c.Output.EventDB != nil {
		db := *c.Output.EventDB
		if db.Password != "" {
			db.Password = "********"
		}
		c.Output.EventDB = &db
	}
	www.SendJSON(w, &c)
}

// Events closed during this run, newest first.
// ?limit=N returns at most N events.
func (s *Server) httpEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	limit := requestLimit(r)
	all := s.RecentEvents()
	events := make([]segmenter.Event, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, all[i])
	}
	www.SendJSON(w, events)
}

// Events from the aggregate database, across all runs, newest first.
func (s *Server) httpHistory(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.eventDB == nil {
		www.PanicBadRequestf("The aggregate event database is not configured")
	}
	www.CacheNever(w)
	events, err := s.eventDB.Recent(requestLimit(r))
	www.Check(err)
	if events == nil {
		events = []*eventdb.Event{}
	}
	www.SendJSON(w, events)
}

func (s *Server) httpSummary(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	sum := s.Summary()
	www.SendJSON(w, &sum)
}

type notificationsJSON struct {
	Enabled bool  `json:"enabled"`
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"` // Failed publish attempts. A message may fail several times before it is sent.
}

func (s *Server) httpNotifications(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	j := notificationsJSON{}
	if s.notifier != nil {
		j.Enabled = true
		j.Sent = s.notifier.NumSent()
		j.Dropped = s.notifier.NumDropped()
		j.Failed = s.notifier.NumFailed()
	}
	www.SendJSON(w, &j)
}

func requestLimit(r *http.Request) int {
	limit := www.QueryInt(r, "limit")
	if limit <= 0 {
		limit = 100
	}
	return min(limit, maxEventsPerRequest)
}
