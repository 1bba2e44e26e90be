package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// nodeResponse is the JSON shape for one device.
type nodeResponse struct {
	ID           int                  `json:"id"`
	Name         string               `json:"name"`
	Alive        bool                 `json:"alive"`
	Capabilities []capabilityResponse `json:"capabilities"`
}

// capabilityResponse is the JSON shape for one capability slot.
type capabilityResponse struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
	Unit  string `json:"unit,omitempty"`
	Value any    `json:"value"` // bool, number or null when unobserved
	Sync  string `json:"sync"`
}

func toNodeResponse(d device.Device) nodeResponse {
	out := nodeResponse{
		ID:           int(d.ID),
		Name:         d.Name,
		Alive:        d.Alive,
		Capabilities: make([]capabilityResponse, 0, len(d.Capabilities)),
	}
	for _, c := range d.Capabilities {
		var value any
		switch c.Value.Type {
		case device.ValueBool:
			value = c.Value.Bool
		case device.ValueNumber:
			value = c.Value.Number
		}
		out.Capabilities = append(out.Capabilities, capabilityResponse{
			Index: c.Index,
			Kind:  c.Kind.String(),
			Label: c.Label,
			Unit:  c.Unit,
			Value: value,
			Sync:  c.Sync.String(),
		})
	}
	return out
}

// handleListNodes returns every device in the model.
//
// GET /api/v1/nodes
func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	nodes := make([]nodeResponse, 0, len(devices))
	for _, d := range devices {
		nodes = append(nodes, toNodeResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// handleGetNode returns one device by node ID.
//
// GET /api/v1/nodes/{id}
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 || id > 255 {
		writeBadRequest(w, "node id must be 1-255")
		return
	}

	d, err := s.bridge.Device(zwave.NodeID(id))
	if err != nil {
		writeNotFound(w, "node not found")
		return
	}

	writeJSON(w, http.StatusOK, toNodeResponse(d))
}

// handleRepublishDiscovery re-publishes every retained discovery record.
//
// POST /api/v1/discovery/republish
func (s *Server) handleRepublishDiscovery(w http.ResponseWriter, _ *http.Request) {
	records, err := s.bridge.RepublishDiscovery()
	if err != nil {
		s.logger.Error("discovery republish failed", "error", err)
		writeInternalError(w, "discovery republish failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
	})
}
