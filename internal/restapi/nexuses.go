/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package restapi

import (
	"net/http"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
)

// ChildRequest is the body of PUT /v0/nexuses/{id}/children.
type ChildRequest struct {
	URI string `json:"uri"`
}

func (s *Server) listNexuses(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.nexuses.List())
}

func (s *Server) getNexus(w http.ResponseWriter, r *http.Request) {
	spec, err := s.nexuses.Get(v1alpha1.NexusID(r.PathValue("id")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) putNexus(w http.ResponseWriter, r *http.Request) {
	req := &v1alpha1.CreateNexus{}
	if err := decodeBody(r, req); err != nil {
		s.respondErr(w, err)
		return
	}
	if id := v1alpha1.NexusID(r.PathValue("id")); req.UUID == "" {
		req.UUID = id
	} else if req.UUID != id {
		s.respondErr(w, ctlerrors.ErrInvalidOperationf("body uuid %s does not match path id %s", req.UUID, id))
		return
	}

	spec, err := s.nexuses.Create(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) deleteNexus(w http.ResponseWriter, r *http.Request) {
	if err := s.nexuses.Destroy(r.Context(), v1alpha1.NexusID(r.PathValue("id"))); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

func (s *Server) shareNexus(w http.ResponseWriter, r *http.Request) {
	spec, err := s.nexuses.Share(r.Context(),
		v1alpha1.NexusID(r.PathValue("id")),
		v1alpha1.ShareProtocol(r.PathValue("protocol")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) unshareNexus(w http.ResponseWriter, r *http.Request) {
	spec, err := s.nexuses.Unshare(r.Context(), v1alpha1.NexusID(r.PathValue("id")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) addNexusChild(w http.ResponseWriter, r *http.Request) {
	req := &ChildRequest{}
	if err := decodeBody(r, req); err != nil {
		s.respondErr(w, err)
		return
	}
	spec, err := s.nexuses.AddChild(r.Context(), v1alpha1.NexusID(r.PathValue("id")), req.URI)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) removeNexusChild(w http.ResponseWriter, r *http.Request) {
	spec, err := s.nexuses.RemoveChild(r.Context(),
		v1alpha1.NexusID(r.PathValue("id")),
		r.URL.Query().Get("uri"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}
