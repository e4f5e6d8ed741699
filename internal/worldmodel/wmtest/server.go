// Package wmtest is an in-memory fake of the external entity store that
// internal/worldmodel.Client talks to, for use by other packages' tests
// (mirroring the teacher's ui/testing package of reusable test doubles).
package wmtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/RoboticBase/uoa-poc2-controller/internal/worldmodel"
)

// Server is a minimal NGSI-style entity store backed by an in-memory map,
// keyed by (type, id). It understands exactly the requests
// internal/worldmodel.Client issues: GET/PATCH .../entities/<id>, and GET
// .../entities?type=&q= or &id= for Query/List.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	entities map[string]worldmodel.Entity // key: type+"/"+id
}

// NewServer starts a fake store with the given seed entities (key: type+"/"+id).
func NewServer(seed map[string]worldmodel.Entity) *Server {
	s := &Server{entities: map[string]worldmodel.Entity{}}
	for k, v := range seed {
		s.entities[k] = cloneEntity(v)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Entity returns a copy of the current state of entityType/id, or nil if absent.
func (s *Server) Entity(entityType, id string) worldmodel.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityType+"/"+id]
	if !ok {
		return nil
	}
	return cloneEntity(e)
}

// Put seeds or overwrites an entity.
func (s *Server) Put(entityType, id string, entity worldmodel.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entityType+"/"+id] = cloneEntity(entity)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v2/entities")
	entityType := r.URL.Query().Get("type")

	switch {
	case r.Method == http.MethodGet && path == "":
		s.handleList(w, r, entityType)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/"):
		id := strings.TrimPrefix(path, "/")
		s.writeEntity(w, entityType, id)

	case r.Method == http.MethodPatch && strings.HasSuffix(path, "/attrs"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/attrs")
		s.handlePatch(w, r, entityType, id)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) writeEntity(w http.ResponseWriter, entityType, id string) {
	e, ok := s.entities[entityType+"/"+id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	e = withID(e, id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(e)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, entityType string) {
	var ids map[string]struct{}
	if raw := r.URL.Query().Get("id"); raw != "" {
		ids = map[string]struct{}{}
		for _, id := range strings.Split(raw, ",") {
			ids[id] = struct{}{}
		}
	}

	query := r.URL.Query().Get("q")
	var predicates [][2]string
	if query != "" {
		for _, p := range strings.Split(query, ";") {
			kv := strings.SplitN(p, "==", 2)
			if len(kv) == 2 {
				predicates = append(predicates, [2]string{kv[0], kv[1]})
			}
		}
	}

	var out []worldmodel.Entity
	for key, e := range s.entities {
		parts := strings.SplitN(key, "/", 2)
		if parts[0] != entityType {
			continue
		}
		id := parts[1]
		if ids != nil {
			if _, ok := ids[id]; !ok {
				continue
			}
		}
		if !matchesAll(withID(e, id), predicates) {
			continue
		}
		out = append(out, withID(e, id))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, entityType, id string) {
	key := entityType + "/" + id
	existing, ok := s.entities[key]
	if !ok {
		if r.URL.Query().Get("options") != "upsert" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		existing = worldmodel.Entity{}
	}

	var attrs map[string]worldmodel.Attribute
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// A fresh send_cmd invalidates the previous command's handshake: a real
	// robot clears send_cmd_status/send_cmd_info as soon as it picks up a
	// new command, so the ack-poll loop never reads a stale result.
	if _, ok := attrs["send_cmd"]; ok {
		delete(existing, "send_cmd_status")
		delete(existing, "send_cmd_info")
	}
	for k, v := range attrs {
		existing[k] = v
	}
	s.entities[key] = existing
	w.WriteHeader(http.StatusNoContent)
}

func matchesAll(e worldmodel.Entity, predicates [][2]string) bool {
	for _, p := range predicates {
		got, err := e.String(p[0])
		if err != nil || got != p[1] {
			return false
		}
	}
	return true
}

func withID(e worldmodel.Entity, id string) worldmodel.Entity {
	out := cloneEntity(e)
	out["id"] = worldmodel.Attribute{Type: "Text", Value: id}
	return out
}

func cloneEntity(e worldmodel.Entity) worldmodel.Entity {
	out := make(worldmodel.Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
