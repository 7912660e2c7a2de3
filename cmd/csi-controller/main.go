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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deckhouse/sds-volume-control/internal/csi"
	"github.com/deckhouse/sds-volume-control/internal/restapi/client"
)

const (
	APIURLEnvVar     = "API_URL"
	APITimeoutEnvVar = "API_TIMEOUT"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		endpoint   = flag.String("endpoint", "unix:///var/lib/kubelet/plugins/"+csi.DefaultDriverName+"/csi.sock", "CSI endpoint")
		driverName = flag.String("driver-name", csi.DefaultDriverName, "Name for the driver")
		address    = flag.String("address", csi.DefaultAddress, "Address to serve on")
	)
	flag.Parse()

	log := logrus.New().WithField("version", csi.GetVersion())

	apiTimeout := time.Duration(0)
	if raw := os.Getenv(APITimeoutEnvVar); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.WithError(err).Fatalf("parsing %s", APITimeoutEnvVar)
		}
		apiTimeout = d
	}

	api, err := client.NewClient(os.Getenv(APIURLEnvVar), apiTimeout)
	if err != nil {
		log.WithError(err).Fatal("creating API client")
	}

	drv, err := csi.NewDriver(*endpoint, *driverName, *address, api)
	if err != nil {
		log.WithError(err).Fatal("creating driver")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	if err := drv.Run(ctx); err != nil {
		log.WithError(err).Error("driver stopped")
		os.Exit(1)
	}
}
