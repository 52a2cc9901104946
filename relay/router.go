package relay

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter builds the relay's HTTP surface: the websocket collaboration
// endpoint plus health and stats probes.
func NewRouter(hub *Hub) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/collab/{session}", hub.HandleCollab).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetStats())
	}).Methods(http.MethodGet)

	return r
}
