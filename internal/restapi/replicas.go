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

func (s *Server) listReplicas(w http.ResponseWriter, r *http.Request) {
	if volume := r.URL.Query().Get("volume"); volume != "" {
		s.respond(w, http.StatusOK, s.replicas.ListForVolume(v1alpha1.VolumeID(volume)))
		return
	}
	s.respond(w, http.StatusOK, s.replicas.List())
}

func (s *Server) getReplica(w http.ResponseWriter, r *http.Request) {
	spec, err := s.replicas.Get(v1alpha1.ReplicaID(r.PathValue("id")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) putReplica(w http.ResponseWriter, r *http.Request) {
	req := &v1alpha1.CreateReplica{}
	if err := decodeBody(r, req); err != nil {
		s.respondErr(w, err)
		return
	}
	if id := v1alpha1.ReplicaID(r.PathValue("id")); req.UUID == "" {
		req.UUID = id
	} else if req.UUID != id {
		s.respondErr(w, ctlerrors.ErrInvalidOperationf("body uuid %s does not match path id %s", req.UUID, id))
		return
	}

	spec, err := s.replicas.Create(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) deleteReplica(w http.ResponseWriter, r *http.Request) {
	if err := s.replicas.Destroy(r.Context(), v1alpha1.ReplicaID(r.PathValue("id"))); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

func (s *Server) shareReplica(w http.ResponseWriter, r *http.Request) {
	spec, err := s.replicas.Share(r.Context(),
		v1alpha1.ReplicaID(r.PathValue("id")),
		v1alpha1.ShareProtocol(r.PathValue("protocol")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) unshareReplica(w http.ResponseWriter, r *http.Request) {
	spec, err := s.replicas.Unshare(r.Context(), v1alpha1.ReplicaID(r.PathValue("id")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}
