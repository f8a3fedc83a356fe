package gateway

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/keystone/pkg/httputil"
)

// RegisterRoutes registers the upgrade endpoint and the pool statistics
func (g *Gateway) RegisterRoutes(router *mux.Router) {
	router.Handle("/ws", g).Methods(http.MethodGet)
	router.HandleFunc("/ws/stats", g.stats).Methods(http.MethodGet)
}

func (g *Gateway) stats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, g.Stats())
}
