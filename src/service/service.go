package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/mosaicnetworks/bootsync/src/node"
	"github.com/mosaicnetworks/bootsync/src/peers"
	"github.com/sirupsen/logrus"
)

// Service exposes the status of a node over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/graph", s.makeHandler(s.GetGraph))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, s)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GraphInfo summarizes the consensus graph held by the node.
type GraphInfo struct {
	Blocks             int
	FinalBlocks        int
	LatestFinalPeriods []uint64
	BestParents        []string
}

// GetGraph ...
func (s *Service) GetGraph(w http.ResponseWriter, r *http.Request) {
	gr := s.node.Graph()
	if gr == nil {
		http.Error(w, "no consensus graph yet", http.StatusServiceUnavailable)
		return
	}

	meta := gr.Meta()
	info := GraphInfo{
		Blocks:             gr.Len(),
		LatestFinalPeriods: meta.LatestFinalPeriods,
	}
	for _, b := range gr.Blocks() {
		if b.IsFinal {
			info.FinalBlocks++
		}
	}
	for _, bp := range meta.BestParents {
		info.BestParents = append(info.BestParents, bp.ID.String())
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(info)
}

// GetPeers returns the bootstrap list advertised by the server the node
// bootstrapped from.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	var res []peers.Peer
	if b := s.node.Bootstrapped(); b != nil {
		res = b.Peers
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}
