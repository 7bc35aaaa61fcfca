// Command-line viewer for watching a relay and driving captures.
package main

import (
	"context"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/camrelay/pkg/relay"
	"github.com/carverauto/camrelay/pkg/viewer"
)

func main() {
	var (
		host    = flag.String("host", "localhost:8090", "Relay server host:port")
		secure  = flag.Bool("secure", false, "Use WSS instead of WS")
		capture = flag.Bool("capture", false, "Request a still capture after connecting")
		live    = flag.Bool("live", false, "Start a live stream after connecting")
		quality = flag.String("quality", "", "Live stream quality hint")
	)
	flag.Parse()

	scheme := "ws"
	if *secure {
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: *host, Path: "/ws"}

	log.Printf("Connecting to %s", u.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := viewer.New(viewer.Config{URL: u.String()})

	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Client stopped: %v", err)
		}
	}()

	startTime := time.Now()

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				return
			}

			handleEvent(client, ev, *capture, *live, *quality)

		case <-ctx.Done():
			log.Println("Received interrupt signal, closing connection...")

			if *live {
				_ = client.LiveStop()
			}

			stop()

			select {
			case <-done:
			case <-time.After(time.Second):
			}

			log.Printf("Session duration: %s", time.Since(startTime).Round(time.Second))

			return
		}
	}
}

func handleEvent(client *viewer.Client, ev viewer.Event, capture, live bool, quality string) {
	switch ev.Kind {
	case viewer.EventConnected:
		log.Printf("Connected")

		if live {
			if err := client.LiveStart(quality); err != nil {
				log.Printf("live_start failed: %v", err)
			}
		}

		if capture {
			if err := client.Capture(); err != nil {
				log.Printf("capture failed: %v", err)
			}
		}

	case viewer.EventDisconnected:
		if ev.Err != nil {
			log.Printf("Disconnected: %v", ev.Err)
		} else {
			log.Printf("Disconnected")
		}

	case viewer.EventMessage:
		printMessage(ev.Message)
	}
}

func printMessage(msg *relay.Message) {
	switch msg.Type {
	case relay.TypeInit, relay.TypeStatus:
		if msg.Status != nil {
			log.Printf("[%s] online=%v capturing=%v live=%v telemetry=%q",
				msg.Type, msg.Status.Online, msg.Status.Capturing, msg.Status.LiveActive, msg.Status.Telemetry)
		}

	case relay.TypeDeviceOnline:
		log.Printf("Device online")

	case relay.TypeDeviceOffline:
		if msg.Reason != "" {
			log.Printf("Device offline (%s)", msg.Reason)
		} else {
			log.Printf("Device offline")
		}

	case relay.TypeCaptureStarted:
		log.Printf("Capture %d started", msg.ID)

	case relay.TypeCaptureDone:
		log.Printf("Capture %d done in %.2fs: %s", msg.ID, msg.Duration, msg.URL)

	case relay.TypeCaptureTimeout:
		log.Printf("Capture %d timed out", msg.ID)

	case relay.TypeLiveFrame:
		log.Printf("Live frame: %s", msg.URL)

	case relay.TypeLiveStatus:
		if msg.Active != nil {
			log.Printf("Live stream active=%v", *msg.Active)
		}

	case relay.TypeError:
		log.Printf("ERROR: %s", msg.Message)

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}
