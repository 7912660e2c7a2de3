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
	"strconv"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
)

// PublishRequest is the body of PUT /v0/volumes/{id}/target.
type PublishRequest struct {
	Node v1alpha1.NodeID `json:"node"`
	// Protocol is nil when the volume is published unshared.
	Protocol *v1alpha1.ShareProtocol `json:"protocol,omitempty"`
}

func (s *Server) listVolumes(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.volumes.List())
}

func (s *Server) getVolume(w http.ResponseWriter, r *http.Request) {
	spec, err := s.volumes.Get(v1alpha1.VolumeID(r.PathValue("id")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) putVolume(w http.ResponseWriter, r *http.Request) {
	req := &v1alpha1.CreateVolume{}
	if err := decodeBody(r, req); err != nil {
		s.respondErr(w, err)
		return
	}
	if id := v1alpha1.VolumeID(r.PathValue("id")); req.UUID == "" {
		req.UUID = id
	} else if req.UUID != id {
		s.respondErr(w, ctlerrors.ErrInvalidOperationf("body uuid %s does not match path id %s", req.UUID, id))
		return
	}

	spec, err := s.volumes.Create(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) deleteVolume(w http.ResponseWriter, r *http.Request) {
	if err := s.volumes.Destroy(r.Context(), v1alpha1.VolumeID(r.PathValue("id"))); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

func (s *Server) shareVolume(w http.ResponseWriter, r *http.Request) {
	spec, err := s.volumes.Share(r.Context(),
		v1alpha1.VolumeID(r.PathValue("id")),
		v1alpha1.ShareProtocol(r.PathValue("protocol")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) unshareVolume(w http.ResponseWriter, r *http.Request) {
	spec, err := s.volumes.Unshare(r.Context(), v1alpha1.VolumeID(r.PathValue("id")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) publishVolume(w http.ResponseWriter, r *http.Request) {
	req := &PublishRequest{}
	if err := decodeBody(r, req); err != nil {
		s.respondErr(w, err)
		return
	}
	spec, err := s.volumes.Publish(r.Context(), v1alpha1.VolumeID(r.PathValue("id")), req.Node, req.Protocol)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) unpublishVolume(w http.ResponseWriter, r *http.Request) {
	spec, err := s.volumes.Unpublish(r.Context(), v1alpha1.VolumeID(r.PathValue("id")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) setVolumeReplicaCount(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.ParseUint(r.PathValue("count"), 10, 8)
	if err != nil {
		s.respondErr(w, ctlerrors.ErrInvalidOperationf("replica count: %v", err))
		return
	}
	spec, err := s.volumes.SetReplicaCount(r.Context(), v1alpha1.VolumeID(r.PathValue("id")), uint8(count))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}

func (s *Server) removeVolumeReplica(w http.ResponseWriter, r *http.Request) {
	spec, err := s.volumes.RemoveUnusedReplica(r.Context(),
		v1alpha1.VolumeID(r.PathValue("id")),
		v1alpha1.ReplicaID(r.PathValue("replica")))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, spec)
}
