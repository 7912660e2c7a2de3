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

package csi

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
)

const (
	// paramReplicas is the storage-class parameter with the replica count.
	paramReplicas = "repl"
	// paramProtocol is the storage-class parameter with the share protocol.
	paramProtocol = "protocol"

	defaultVolumeSize = 1 << 30
)

// Kubernetes names PVC-backed volumes pvc-<uuid>; the uuid becomes the
// volume id on the control plane.
var pvcNameRegexp = regexp.MustCompile(`^pvc-([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})$`)

// grpcStatus maps the control plane's error taxonomy onto gRPC codes.
func grpcStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ctlerrors.ErrBusy):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ctlerrors.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ctlerrors.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ctlerrors.ErrInvalidOperation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ctlerrors.ErrStoreFailed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func supportedCapability(cap *csi.VolumeCapability) bool {
	if cap.GetAccessMode() == nil {
		return false
	}
	return cap.GetAccessMode().GetMode() == csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER
}

func parseShareProtocol(raw string) (*v1alpha1.ShareProtocol, error) {
	if raw == "" {
		p := v1alpha1.ShareProtocolNvmf
		return &p, nil
	}
	p := v1alpha1.ShareProtocol(raw)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateVolume provisions a volume for a PVC.
func (d *Driver) CreateVolume(ctx context.Context, request *csi.CreateVolumeRequest) (*csi.CreateVolumeResponse, error) {
	d.log.WithField("name", request.GetName()).Info("method CreateVolume")

	m := pvcNameRegexp.FindStringSubmatch(request.GetName())
	if m == nil {
		return nil, status.Errorf(codes.InvalidArgument, "expected the volume name to be pvc-<uuid>, got %q", request.GetName())
	}
	id := v1alpha1.VolumeID(m[1])

	if len(request.GetVolumeCapabilities()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "volume capabilities are required")
	}
	for _, cap := range request.GetVolumeCapabilities() {
		if !supportedCapability(cap) {
			return nil, status.Errorf(codes.InvalidArgument, "unsupported access mode %s", cap.GetAccessMode().GetMode())
		}
	}

	size := int64(defaultVolumeSize)
	if r := request.GetCapacityRange(); r != nil {
		if r.GetRequiredBytes() > 0 {
			size = r.GetRequiredBytes()
		} else if r.GetLimitBytes() > 0 {
			size = r.GetLimitBytes()
		}
	}

	replicas := uint8(1)
	if raw := request.GetParameters()[paramReplicas]; raw != "" {
		n, err := strconv.ParseUint(raw, 10, 8)
		if err != nil || n == 0 {
			return nil, status.Errorf(codes.InvalidArgument, "invalid %s parameter %q", paramReplicas, raw)
		}
		replicas = uint8(n)
	}

	protocol, err := parseShareProtocol(request.GetParameters()[paramProtocol])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid %s parameter: %v", paramProtocol, err)
	}

	vol, err := d.api.CreateVolume(ctx, &v1alpha1.CreateVolume{
		UUID:     id,
		Size:     uint64(size),
		Replicas: replicas,
	})
	if err != nil {
		return nil, grpcStatus(err)
	}

	return &csi.CreateVolumeResponse{
		Volume: &csi.Volume{
			VolumeId:      string(vol.UUID),
			CapacityBytes: int64(vol.Size),
			VolumeContext: map[string]string{
				paramProtocol: string(*protocol),
			},
		},
	}, nil
}

// DeleteVolume removes a volume. Deleting an unknown volume succeeds.
func (d *Driver) DeleteVolume(ctx context.Context, request *csi.DeleteVolumeRequest) (*csi.DeleteVolumeResponse, error) {
	d.log.WithField("volume", request.GetVolumeId()).Info("method DeleteVolume")

	if request.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume id is required")
	}

	err := d.api.DestroyVolume(ctx, v1alpha1.VolumeID(request.GetVolumeId()))
	if err != nil && !errors.Is(err, ctlerrors.ErrNotFound) {
		return nil, grpcStatus(err)
	}
	return &csi.DeleteVolumeResponse{}, nil
}

// ControllerPublishVolume makes the volume available on a node.
func (d *Driver) ControllerPublishVolume(ctx context.Context, request *csi.ControllerPublishVolumeRequest) (*csi.ControllerPublishVolumeResponse, error) {
	d.log.WithFields(map[string]interface{}{
		"volume": request.GetVolumeId(),
		"node":   request.GetNodeId(),
	}).Info("method ControllerPublishVolume")

	if request.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume id is required")
	}
	if request.GetNodeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "node id is required")
	}
	if request.GetVolumeCapability() != nil && !supportedCapability(request.GetVolumeCapability()) {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported access mode %s",
			request.GetVolumeCapability().GetAccessMode().GetMode())
	}

	protocol, err := parseShareProtocol(request.GetVolumeContext()[paramProtocol])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid %s in volume context: %v", paramProtocol, err)
	}

	vol, err := d.api.PublishVolume(ctx, v1alpha1.VolumeID(request.GetVolumeId()), v1alpha1.NodeID(request.GetNodeId()), protocol)
	if err != nil {
		// Published on a different node is a precondition failure, not a
		// malformed request.
		if errors.Is(err, ctlerrors.ErrInvalidOperation) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, grpcStatus(err)
	}

	return &csi.ControllerPublishVolumeResponse{
		PublishContext: map[string]string{
			"node":        string(vol.Target.Node),
			"nexus":       string(vol.Target.Nexus),
			paramProtocol: string(vol.Protocol),
		},
	}, nil
}

// ControllerUnpublishVolume retires the volume's target. Unpublishing an
// unknown or unpublished volume succeeds.
func (d *Driver) ControllerUnpublishVolume(ctx context.Context, request *csi.ControllerUnpublishVolumeRequest) (*csi.ControllerUnpublishVolumeResponse, error) {
	d.log.WithField("volume", request.GetVolumeId()).Info("method ControllerUnpublishVolume")

	if request.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume id is required")
	}

	_, err := d.api.UnpublishVolume(ctx, v1alpha1.VolumeID(request.GetVolumeId()))
	if err != nil && !errors.Is(err, ctlerrors.ErrNotFound) {
		return nil, grpcStatus(err)
	}
	return &csi.ControllerUnpublishVolumeResponse{}, nil
}

// ValidateVolumeCapabilities confirms single-node-writer access.
func (d *Driver) ValidateVolumeCapabilities(ctx context.Context, request *csi.ValidateVolumeCapabilitiesRequest) (*csi.ValidateVolumeCapabilitiesResponse, error) {
	if request.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume id is required")
	}
	if _, err := d.api.GetVolume(ctx, v1alpha1.VolumeID(request.GetVolumeId())); err != nil {
		return nil, grpcStatus(err)
	}

	for _, cap := range request.GetVolumeCapabilities() {
		if !supportedCapability(cap) {
			return &csi.ValidateVolumeCapabilitiesResponse{
				Message: "only single-node-writer access is supported",
			}, nil
		}
	}
	return &csi.ValidateVolumeCapabilitiesResponse{
		Confirmed: &csi.ValidateVolumeCapabilitiesResponse_Confirmed{
			VolumeCapabilities: request.GetVolumeCapabilities(),
		},
	}, nil
}

// ListVolumes returns all volumes known to the control plane.
func (d *Driver) ListVolumes(ctx context.Context, _ *csi.ListVolumesRequest) (*csi.ListVolumesResponse, error) {
	vols, err := d.api.ListVolumes(ctx)
	if err != nil {
		return nil, grpcStatus(err)
	}

	entries := make([]*csi.ListVolumesResponse_Entry, 0, len(vols))
	for _, vol := range vols {
		entries = append(entries, &csi.ListVolumesResponse_Entry{
			Volume: &csi.Volume{
				VolumeId:      string(vol.UUID),
				CapacityBytes: int64(vol.Size),
			},
		})
	}
	return &csi.ListVolumesResponse{Entries: entries}, nil
}

// ControllerGetCapabilities advertises what this controller implements.
func (d *Driver) ControllerGetCapabilities(context.Context, *csi.ControllerGetCapabilitiesRequest) (*csi.ControllerGetCapabilitiesResponse, error) {
	supported := []csi.ControllerServiceCapability_RPC_Type{
		csi.ControllerServiceCapability_RPC_CREATE_DELETE_VOLUME,
		csi.ControllerServiceCapability_RPC_PUBLISH_UNPUBLISH_VOLUME,
		csi.ControllerServiceCapability_RPC_LIST_VOLUMES,
	}

	caps := make([]*csi.ControllerServiceCapability, 0, len(supported))
	for _, t := range supported {
		caps = append(caps, &csi.ControllerServiceCapability{
			Type: &csi.ControllerServiceCapability_Rpc{
				Rpc: &csi.ControllerServiceCapability_RPC{Type: t},
			},
		})
	}
	return &csi.ControllerGetCapabilitiesResponse{Capabilities: caps}, nil
}
