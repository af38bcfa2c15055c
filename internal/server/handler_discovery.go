package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "schedbench API",
		Version:     "v1",
		Description: "Deadline miss rate, accuracy and throughput of real-time scheduling policies",
		Endpoints: []endpointInfo{
			{"/api/v1/metrics", []string{"GET"}, "Aggregate a deadline layout. ?ddl=N required; ?record=true archives the report; ?format=markdown returns text"},
			{"/api/v1/reports", []string{"GET"}, "Archived reports, newest first. ?label= filters"},
			{"/api/v1/reports/{id}", []string{"GET"}, "Single archived report"},
			{"/api/v1/runs", []string{"GET"}, "Archived measurement runs, newest first"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
