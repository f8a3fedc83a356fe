package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/keystone/pkg/httputil"
)

// Handlers serves the login activity trail to organization administrators
type Handlers struct {
	store *DBRecorder
}

// NewHandlers creates new login activity handlers
func NewHandlers(store *DBRecorder) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers login activity routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login-activity", h.listActivity).Methods(http.MethodGet)
	router.HandleFunc("/login-activity", h.deleteActivity).Methods(http.MethodDelete)
}

type activityPage struct {
	Data   []*Activity `json:"data"`
	Count  int         `json:"count"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func (h *Handlers) listActivity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	if events == nil {
		events = []*Activity{}
	}
	httputil.WriteSuccess(w, activityPage{
		Data:   events,
		Count:  len(events),
		Limit:  filter.limit(),
		Offset: filter.Offset,
	})
}

type deleteRequest struct {
	IDs []string `json:"selected"`
}

func (h *Handlers) deleteActivity(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		httputil.WriteBadRequest(w, "selected must list at least one id")
		return
	}

	n, err := h.store.Delete(r.Context(), req.IDs)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"deleted": n})
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	var f SearchFilter
	var err error

	f.Username = r.URL.Query().Get("username")
	if codes := r.URL.Query().Get("activityCodes"); codes != "" {
		for _, c := range strings.Split(codes, ",") {
			f.Codes = append(f.Codes, ActivityCode(strings.TrimSpace(c)))
		}
	}
	if f.StartTime, err = parseTime(r, "startDate"); err != nil {
		return f, err
	}
	if f.EndTime, err = parseTime(r, "endDate"); err != nil {
		return f, err
	}
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", defaultSearchLimit); err != nil {
		return f, err
	}
	if f.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
