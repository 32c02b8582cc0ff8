// Package admin exposes a small HTTP surface over a running topology:
// machine listing, routing info, add/remove mutations and Prometheus
// metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/neo4j-contrib/boltkit/telemetry"
	"github.com/neo4j-contrib/boltkit/topology"
)

// Server serves the admin API for one topology.
type Server struct {
	topo *topology.Topology
	http *http.Server
}

func NewServer(topo *topology.Topology, address string, port int) *Server {
	s := &Server{topo: topo}

	r := chi.NewRouter()
	r.Get("/topology", s.handleTopology)
	r.Get("/routing", s.handleRouting)
	r.Post("/routing/refresh", s.handleRoutingRefresh)
	r.Route("/cluster", func(r chi.Router) {
		r.Post("/add-core", s.handleAddCore)
		r.Post("/add-replica", s.handleAddReplica)
		r.Post("/remove/{name}", s.handleRemove)
	})
	if handler := telemetry.Handler(); handler != nil {
		r.Handle("/metrics", handler)
	}

	s.http = &http.Server{
		Addr:              net.JoinHostPort(address, fmt.Sprintf("%d", port)),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		log.Info().Str("address", s.http.Addr).Msg("Admin listener started")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin listener failed")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type machineInfo struct {
	FQName      string `json:"fq_name"`
	BoltPort    int    `json:"bolt_port"`
	HTTPPort    int    `json:"http_port"`
	Mode        string `json:"mode"`
	Readiness   string `json:"readiness"`
	IPAddress   string `json:"ip_address,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	machines := s.topo.Machines()
	infos := make([]machineInfo, len(machines))
	for i, m := range machines {
		infos[i] = machineInfo{
			FQName:      m.Spec.FQName(),
			BoltPort:    m.Spec.BoltPort,
			HTTPPort:    m.Spec.HTTPPort,
			Mode:        m.Spec.Mode(),
			Readiness:   m.Readiness.String(),
			IPAddress:   m.IPAddress,
			ContainerID: m.ContainerID(),
		}
	}

	response := map[string]interface{}{
		"name":      s.topo.Name,
		"image":     s.topo.Image,
		"clustered": s.topo.Clustered(),
		"machines":  infos,
	}
	if pool := s.topo.Pool(); pool != nil {
		response["free_cores"] = pool.FreeCores()
		response["free_replicas"] = pool.FreeReplicas()
	}
	writeJSON(w, response)
}

func machineAddresses(machines []*topology.Machine) []string {
	addrs := make([]string, len(machines))
	for i, m := range machines {
		addrs[i] = m.Spec.BoltAddress().String()
	}
	return addrs
}

func (s *Server) handleRouting(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"resolved": s.topo.Resolved(),
		"routers":  machineAddresses(s.topo.Routers()),
	}
	if s.topo.Resolved() {
		response["readers"] = machineAddresses(s.topo.Readers())
		response["writers"] = machineAddresses(s.topo.Writers())
		response["ttl_seconds"] = s.topo.TTL().Seconds()
	}
	writeJSON(w, response)
}

func (s *Server) handleRoutingRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.topo.ResolveRouting(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.handleRouting(w, r)
}

func (s *Server) handleAddCore(w http.ResponseWriter, r *http.Request) {
	s.handleAdd(w, r, s.topo.AddCore)
}

func (s *Server) handleAddReplica(w http.ResponseWriter, r *http.Request) {
	s.handleAdd(w, r, s.topo.AddReplica)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, add func(context.Context) (*topology.MachineSpec, error)) {
	spec, err := add(r.Context())
	var capacity *topology.CapacityError
	if errors.As(err, &capacity) {
		http.Error(w, capacity.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("machine %s added", spec.FQName()),
		"fq_name": spec.FQName(),
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := s.topo.RemoveByName(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if removed == 0 {
		http.Error(w, fmt.Sprintf("machine %q not found", name), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("%d machine(s) removed", removed),
		"removed": removed,
	})
}

func writeJSON(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode admin response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
