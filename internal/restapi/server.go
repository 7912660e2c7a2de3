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

// Package restapi serves the control plane's v0 REST surface: CRUD plus the
// operation endpoints for volumes, replicas and nexuses. It is a thin JSON
// adapter; all semantics live in the services.
package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/ledger"
	"github.com/deckhouse/sds-volume-control/internal/service/nexus"
	"github.com/deckhouse/sds-volume-control/internal/service/replica"
	"github.com/deckhouse/sds-volume-control/internal/service/volume"
)

// Server exposes the services over HTTP.
type Server struct {
	log      logr.Logger
	ledger   *ledger.Ledger
	volumes  *volume.Service
	replicas *replica.Service
	nexuses  *nexus.Service
}

// NewServer builds the REST adapter.
func NewServer(
	log logr.Logger,
	l *ledger.Ledger,
	volumes *volume.Service,
	replicas *replica.Service,
	nexuses *nexus.Service,
) (*Server, error) {
	if err := ctlerrors.ValidateArgNotNil(l, "ledger"); err != nil {
		return nil, err
	}
	if err := ctlerrors.ValidateArgNotNil(volumes, "volumes"); err != nil {
		return nil, err
	}
	if err := ctlerrors.ValidateArgNotNil(replicas, "replicas"); err != nil {
		return nil, err
	}
	if err := ctlerrors.ValidateArgNotNil(nexuses, "nexuses"); err != nil {
		return nil, err
	}
	return &Server{log: log, ledger: l, volumes: volumes, replicas: replicas, nexuses: nexuses}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v0/specs", s.getSpecs)

	mux.HandleFunc("GET /v0/volumes", s.listVolumes)
	mux.HandleFunc("GET /v0/volumes/{id}", s.getVolume)
	mux.HandleFunc("PUT /v0/volumes/{id}", s.putVolume)
	mux.HandleFunc("DELETE /v0/volumes/{id}", s.deleteVolume)
	mux.HandleFunc("PUT /v0/volumes/{id}/share/{protocol}", s.shareVolume)
	mux.HandleFunc("DELETE /v0/volumes/{id}/share", s.unshareVolume)
	mux.HandleFunc("PUT /v0/volumes/{id}/target", s.publishVolume)
	mux.HandleFunc("DELETE /v0/volumes/{id}/target", s.unpublishVolume)
	mux.HandleFunc("PUT /v0/volumes/{id}/replica_count/{count}", s.setVolumeReplicaCount)
	mux.HandleFunc("DELETE /v0/volumes/{id}/replicas/{replica}", s.removeVolumeReplica)

	mux.HandleFunc("GET /v0/replicas", s.listReplicas)
	mux.HandleFunc("GET /v0/replicas/{id}", s.getReplica)
	mux.HandleFunc("PUT /v0/replicas/{id}", s.putReplica)
	mux.HandleFunc("DELETE /v0/replicas/{id}", s.deleteReplica)
	mux.HandleFunc("PUT /v0/replicas/{id}/share/{protocol}", s.shareReplica)
	mux.HandleFunc("DELETE /v0/replicas/{id}/share", s.unshareReplica)

	mux.HandleFunc("GET /v0/nexuses", s.listNexuses)
	mux.HandleFunc("GET /v0/nexuses/{id}", s.getNexus)
	mux.HandleFunc("PUT /v0/nexuses/{id}", s.putNexus)
	mux.HandleFunc("DELETE /v0/nexuses/{id}", s.deleteNexus)
	mux.HandleFunc("PUT /v0/nexuses/{id}/share/{protocol}", s.shareNexus)
	mux.HandleFunc("DELETE /v0/nexuses/{id}/share", s.unshareNexus)
	mux.HandleFunc("PUT /v0/nexuses/{id}/children", s.addNexusChild)
	mux.HandleFunc("DELETE /v0/nexuses/{id}/children", s.removeNexusChild)

	return mux
}

func (s *Server) getSpecs(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.ledger.Specs())
}

// ErrorBody is the wire form of a failed request.
type ErrorBody struct {
	Message string `json:"message"`
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error(err, "encoding response")
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	s.respond(w, statusOf(err), ErrorBody{Message: err.Error()})
}

// statusOf maps the error taxonomy onto HTTP statuses. Callers distinguish
// retryable statuses (409, 503) from terminal ones.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ctlerrors.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ctlerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ctlerrors.ErrAlreadyExists):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ctlerrors.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, ctlerrors.ErrStoreFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorOf is the inverse of statusOf. The API client uses it to surface the
// same error taxonomy the services produced.
func ErrorOf(status int, message string) error {
	switch status {
	case http.StatusConflict:
		return ctlerrors.ErrBusyf("%s", message)
	case http.StatusNotFound:
		return ctlerrors.ErrNotFoundf("%s", message)
	case http.StatusUnprocessableEntity:
		return ctlerrors.ErrAlreadyExistsf("%s", message)
	case http.StatusBadRequest:
		return ctlerrors.ErrInvalidOperationf("%s", message)
	case http.StatusServiceUnavailable:
		return ctlerrors.ErrStoreFailedf("%s", message)
	default:
		return ctlerrors.ErrEngineFailedf("%s", message)
	}
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return ctlerrors.ErrInvalidOperationf("decoding request body: %v", err)
	}
	return nil
}
