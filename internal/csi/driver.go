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

// Package csi is the CSI controller service: a thin adapter translating CSI
// gRPC calls into REST API calls against the control plane core.
package csi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/deckhouse/sds-volume-control/internal/restapi/client"
)

const (
	// DefaultDriverName is the canonical CSI plugin name.
	DefaultDriverName = "volume.csi.storage.deckhouse.io"
	// DefaultAddress is the default address for the driver's http handler.
	DefaultAddress = "127.0.0.1:12302"
)

var version = "dev"

// Driver serves the CSI Identity and Controller services over a unix domain
// socket, plus a plain http health endpoint.
type Driver struct {
	csi.UnimplementedIdentityServer
	csi.UnimplementedControllerServer

	name     string
	endpoint string
	address  string

	api client.Client

	srv     *grpc.Server
	httpSrv http.Server
	log     *logrus.Entry

	readyMu sync.Mutex // protects ready
	ready   bool
}

// NewDriver returns a CSI plugin backed by the given control-plane API
// client. The client is a required constructor argument; the driver never
// creates one on demand.
func NewDriver(ep, driverName, address string, api client.Client) (*Driver, error) {
	if api == nil {
		return nil, errors.New("API client is required")
	}
	if driverName == "" {
		driverName = DefaultDriverName
	}

	log := logrus.New().WithFields(logrus.Fields{
		"version": version,
	})

	return &Driver{
		name:     driverName,
		endpoint: ep,
		address:  address,
		api:      api,
		log:      log,
	}, nil
}

// Run serves until ctx is canceled.
func (d *Driver) Run(ctx context.Context) error {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return fmt.Errorf("unable to parse address: %q", err)
	}

	grpcAddr := path.Join(u.Host, filepath.FromSlash(u.Path))
	if u.Host == "" {
		grpcAddr = filepath.FromSlash(u.Path)
	}

	// CSI plugins talk only over UNIX sockets currently
	if u.Scheme != "unix" {
		return fmt.Errorf("currently only unix domain sockets are supported, have: %s", u.Scheme)
	}
	// remove the socket if it's already there. This can happen if we
	// deploy a new version and the socket was created from the old running
	// plugin.
	d.log.WithField("socket", grpcAddr).Info("removing socket")
	if err := os.Remove(grpcAddr); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unix domain socket file %s, error: %s", grpcAddr, err)
	}

	grpcListener, err := net.Listen(u.Scheme, grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}

	// log response errors for better observability
	errHandler := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			d.log.WithError(err).WithField("method", info.FullMethod).Error("method failed")
		}
		return resp, err
	}

	d.srv = grpc.NewServer(grpc.UnaryInterceptor(errHandler))
	csi.RegisterIdentityServer(d.srv, d)
	csi.RegisterControllerServer(d.srv, d)

	httpListener, err := net.Listen("tcp", d.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	d.httpSrv = http.Server{
		Handler: mux,
	}

	d.readyMu.Lock()
	d.ready = true
	d.readyMu.Unlock()
	d.log.WithFields(logrus.Fields{
		"grpc_addr": grpcAddr,
		"http_addr": d.address,
	}).Info("starting server")

	var eg errgroup.Group
	eg.Go(func() error {
		<-ctx.Done()
		return d.httpSrv.Shutdown(context.Background())
	})
	eg.Go(func() error {
		go func() {
			<-ctx.Done()
			d.log.Info("server stopped")
			d.readyMu.Lock()
			d.ready = false
			d.readyMu.Unlock()
			d.srv.GracefulStop()
		}()
		return d.srv.Serve(grpcListener)
	})
	eg.Go(func() error {
		err := d.httpSrv.Serve(httpListener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	return eg.Wait()
}

// GetVersion returns the build version.
func GetVersion() string {
	return version
}
