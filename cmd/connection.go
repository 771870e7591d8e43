// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Edward GCB

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sstallion/go-hid"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/EdwardGCB/expo-usb-conected/pkg/capture"
	"github.com/EdwardGCB/expo-usb-conected/pkg/freestyle"
)

// HIDTransport drives the meter over raw USB HID reports.
type HIDTransport struct {
	path string
	dev  *hid.Device
}

// NewHIDTransport targets an explicit device path, or the first device
// matching the meter's USB IDs when path is empty.
func NewHIDTransport(path string) *HIDTransport {
	return &HIDTransport{path: path}
}

func (t *HIDTransport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := hid.Init(); err != nil {
		return fmt.Errorf("hidapi init: %w", err)
	}

	var (
		dev *hid.Device
		err error
	)
	if t.path != "" {
		dev, err = hid.OpenPath(t.path)
	} else {
		dev, err = hid.OpenFirst(freestyle.VendorIDAbbott, freestyle.ProductIDOptiumNeo)
	}
	if err != nil {
		hid.Exit()
		return fmt.Errorf("failed to open meter: %w", err)
	}
	t.dev = dev
	return nil
}

// ClaimInterface is a no-op: hidapi claims the interface on open.
func (t *HIDTransport) ClaimInterface(iface int) error {
	return nil
}

func (t *HIDTransport) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// hidapi wants the report ID in front; the meter uses report 0.
	buf := make([]byte, len(p)+1)
	copy(buf[1:], p)
	n, err := t.dev.Write(buf)
	if err != nil {
		return -1, err
	}
	if n > 0 {
		n--
	}
	return n, nil
}

func (t *HIDTransport) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, freestyle.FrameSize)
	n, err := t.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *HIDTransport) Close() error {
	if t.dev == nil {
		return nil
	}
	err := t.dev.Close()
	t.dev = nil
	hid.Exit()
	return err
}

// SerialTransport drives the meter through a serial data cable or a
// CDC-ACM bridge.
type SerialTransport struct {
	portName string
	baudRate int
	port     serial.Port
}

// NewSerialTransport targets a serial port.
func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	return &SerialTransport{portName: portName, baudRate: baudRate}
}

func (t *SerialTransport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mode := &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(t.portName, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", t.portName, err)
	}
	t.port = port
	return nil
}

// ClaimInterface is a no-op on a serial port.
func (t *SerialTransport) ClaimInterface(iface int) error {
	return nil
}

func (t *SerialTransport) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.port.Write(p)
}

func (t *SerialTransport) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, 256)
	n, err := t.port.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *SerialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketTransport drives a meter exposed by an "optium serve" bridge.
type WebSocketTransport struct {
	url           string
	username      string
	password      string
	skipSSLVerify bool

	conn   *websocket.Conn
	closed bool
}

// NewWebSocketTransport targets a bridge URL with optional Basic auth.
func NewWebSocketTransport(wsURL, username, password string, skipSSLVerify bool) *WebSocketTransport {
	return &WebSocketTransport{
		url:           wsURL,
		username:      username,
		password:      password,
		skipSSLVerify: skipSSLVerify,
	}
}

func (t *WebSocketTransport) Open(ctx context.Context) error {
	u, err := url.Parse(t.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: t.skipSSLVerify,
		}
	}

	headers := http.Header{}
	if t.username != "" && t.password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(t.username + ":" + t.password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, t.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}
	t.conn = conn
	return nil
}

// ClaimInterface is a no-op: the bridge claims the real interface.
func (t *WebSocketTransport) ClaimInterface(iface int) error {
	return nil
}

func (t *WebSocketTransport) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if t.closed {
		return 0, ErrConnectionClosed
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		t.closed = true
		return 0, err
	}
	return len(p), nil
}

func (t *WebSocketTransport) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed {
		return nil, ErrConnectionClosed
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			// A lapsed deadline is a quiet meter, not a dead bridge.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, nil
			}
			t.closed = true
			return nil, err
		}
		// Only binary messages carry meter traffic.
		if messageType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("OPTIUM_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenTransport builds the transport selected by the persistent flags:
// a capture replay, a WebSocket bridge, a serial port, or USB HID by
// default. When --capture is set the transport is wrapped in a recorder.
func OpenTransport() (freestyle.Transport, string, error) {
	var (
		transport freestyle.Transport
		info      string
	)

	switch {
	case replayPath != "":
		replay, err := capture.OpenReplay(replayPath)
		if err != nil {
			return nil, "", err
		}
		transport = replay
		info = fmt.Sprintf("Replay: %s", replayPath)

	case wsURL != "":
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		transport = NewWebSocketTransport(wsURL, wsUsername, password, wsNoSSLVerify)
		info = fmt.Sprintf("WebSocket: %s", wsURL)

	case portName != "":
		transport = NewSerialTransport(portName, baudRate)
		info = fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)

	default:
		transport = NewHIDTransport(hidPath)
		if hidPath != "" {
			info = fmt.Sprintf("USB HID: %s", hidPath)
		} else {
			info = fmt.Sprintf("USB HID: %04x:%04x", freestyle.VendorIDAbbott, freestyle.ProductIDOptiumNeo)
		}
	}

	if capturePath != "" && replayPath == "" {
		writer, err := capture.Create(capturePath)
		if err != nil {
			return nil, "", err
		}
		transport = capture.NewRecorder(transport, writer)
		info += fmt.Sprintf(" (capturing to %s)", capturePath)
	}

	return transport, info, nil
}
