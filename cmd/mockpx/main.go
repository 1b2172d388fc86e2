// mockpx serves a simulated PX device for local development: pxctl talks to
// it exactly like it talks to hardware.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pxaudio/pxctl/internal/mockdevice"
)

func main() {
	addr := flag.String("addr", ":8098", "listen address")
	debug := flag.Bool("debug", false, "log every frame")
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	srv := mockdevice.Start(*addr, log)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}
