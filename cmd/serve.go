// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Edward GCB

package cmd

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/EdwardGCB/expo-usb-conected/pkg/freestyle"
)

var (
	serveListen   string
	servePassword string
	serveReadMs   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bridge a local meter over WebSocket",
	Long: `Expose the locally attached meter to remote clients over a WebSocket
bridge. Binary messages received on /device are written to the meter
verbatim; everything the meter answers is relayed back as binary
messages. One client at a time owns the device.

Endpoints:
  /device  - WebSocket relay to the meter
  /metrics - Prometheus metrics

When --password is set, clients must authenticate with HTTP Basic auth
(any username). The remote end connects with:

  optium info --url ws://host:8555/device

Exit codes:
  0 - Clean shutdown
  1 - Server error`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":8555", "Listen address")
	serveCmd.Flags().StringVar(&servePassword, "password", "", "Require HTTP Basic auth with this password")
	serveCmd.Flags().IntVar(&serveReadMs, "read-timeout", 2000, "Device read timeout per relay poll (ms)")
}

// bridge relays WebSocket messages to the local device transport.
// Only one client may hold the device at a time.
type bridge struct {
	mu       sync.Mutex
	busy     bool
	upgrader websocket.Upgrader

	sessionsTotal prometheus.Counter
	framesOut     prometheus.Counter
	framesIn      prometheus.Counter
	bytesOut      prometheus.Counter
	bytesIn       prometheus.Counter
	errorsTotal   prometheus.Counter
	busyRejects   prometheus.Counter
}

func newBridge(reg *prometheus.Registry) *bridge {
	b := &bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  freestyle.FrameSize,
			WriteBufferSize: freestyle.FrameSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optium", Subsystem: "bridge", Name: "sessions_total",
			Help: "Client sessions accepted.",
		}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optium", Subsystem: "bridge", Name: "frames_to_device_total",
			Help: "Messages relayed to the device.",
		}),
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optium", Subsystem: "bridge", Name: "frames_from_device_total",
			Help: "Device reads relayed to the client.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optium", Subsystem: "bridge", Name: "bytes_to_device_total",
			Help: "Bytes written to the device.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optium", Subsystem: "bridge", Name: "bytes_from_device_total",
			Help: "Bytes read from the device.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optium", Subsystem: "bridge", Name: "errors_total",
			Help: "Relay errors.",
		}),
		busyRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optium", Subsystem: "bridge", Name: "busy_rejects_total",
			Help: "Connections rejected because the device was held by another client.",
		}),
	}
	reg.MustRegister(b.sessionsTotal, b.framesOut, b.framesIn,
		b.bytesOut, b.bytesIn, b.errorsTotal, b.busyRejects)
	return b
}

func (b *bridge) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy {
		return false
	}
	b.busy = true
	return true
}

func (b *bridge) release() {
	b.mu.Lock()
	b.busy = false
	b.mu.Unlock()
}

func (b *bridge) handleDevice(w http.ResponseWriter, r *http.Request) {
	if !checkBasicAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="optium"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !b.acquire() {
		b.busyRejects.Inc()
		http.Error(w, "device busy", http.StatusConflict)
		return
	}
	defer b.release()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if appLog != nil {
			appLog.Warn().Err(err).Msg("websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	b.sessionsTotal.Inc()
	if appLog != nil {
		appLog.Info().Str("remote", r.RemoteAddr).Msg("bridge client connected")
	}

	transport, connInfo, err := openLocalTransport()
	if err != nil {
		b.errorsTotal.Inc()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(time.Second))
		return
	}
	defer transport.Close()

	ctx := r.Context()
	if err := transport.Open(ctx); err != nil {
		b.errorsTotal.Inc()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(time.Second))
		return
	}
	if err := transport.ClaimInterface(0); err != nil {
		b.errorsTotal.Inc()
		return
	}

	if appLog != nil {
		appLog.Debug().Str("device", connInfo).Msg("bridge holding device")
	}

	readTimeout := time.Duration(serveReadMs) * time.Millisecond
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.errorsTotal.Inc()
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		n, err := transport.Write(ctx, data)
		if err != nil {
			b.errorsTotal.Inc()
			if appLog != nil {
				appLog.Warn().Err(err).Msg("device write failed")
			}
			return
		}
		b.framesOut.Inc()
		b.bytesOut.Add(float64(n))

		// Relay everything the device answers before the next client
		// message. Half duplex, like the underlying transports.
		for {
			chunk, err := transport.Read(ctx, readTimeout)
			if err != nil {
				b.errorsTotal.Inc()
				return
			}
			if len(chunk) == 0 {
				break
			}
			b.framesIn.Inc()
			b.bytesIn.Add(float64(len(chunk)))
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				b.errorsTotal.Inc()
				return
			}
		}
	}
}

// openLocalTransport opens the local device directly, never another
// bridge: serving a URL back out would loop.
func openLocalTransport() (freestyle.Transport, string, error) {
	if portName != "" {
		return NewSerialTransport(portName, baudRate), fmt.Sprintf("serial %s", portName), nil
	}
	return NewHIDTransport(hidPath), "hid", nil
}

func checkBasicAuth(r *http.Request) bool {
	if servePassword == "" {
		return true
	}
	_, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(servePassword)) == 1
}

func runServe(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	b := newBridge(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/device", b.handleDevice)
	mux.Handle("/metrics", promhttp.HandlerFor(
		reg,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          reg,
		},
	))

	srv := &http.Server{
		Addr:              serveListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	appLog.Info().Str("listen", serveListen).Bool("auth", servePassword != "").Msg("bridge listening")
	fmt.Printf("Bridge listening on %s (device at ws://%s/device)\n", serveListen, serveListen)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
