// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import "fmt"

// Frame is a fixed 64-byte control frame. Byte 0 carries the opcode, byte 1
// the payload length, bytes 2..1+len the payload. The remainder is zero.
type Frame [FrameSize]byte

// NewControlFrame builds a control frame for the given opcode and payload.
// Returns ErrPayloadTooLarge when the payload exceeds MaxFramePayload bytes.
func NewControlFrame(op byte, payload []byte) (Frame, error) {
	var f Frame
	if len(payload) > MaxFramePayload {
		return f, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxFramePayload)
	}
	f[0] = op
	f[1] = byte(len(payload))
	copy(f[2:], payload)
	return f, nil
}

// NewTextCommandFrame wraps an ASCII command in a control frame with the
// text opcode. No terminator is appended at this layer.
func NewTextCommandFrame(command string) (Frame, error) {
	f, err := NewControlFrame(OpText, []byte(command))
	if err != nil {
		return f, fmt.Errorf("text command %q: %w", command, err)
	}
	return f, nil
}

// Opcode returns the frame's opcode byte.
func (f Frame) Opcode() byte {
	return f[0]
}

// PayloadLen returns the declared payload length.
func (f Frame) PayloadLen() int {
	return int(f[1])
}

// Payload returns the payload bytes declared by the length byte. A length
// byte beyond MaxFramePayload is clamped.
func (f Frame) Payload() []byte {
	n := int(f[1])
	if n > MaxFramePayload {
		n = MaxFramePayload
	}
	return f[2 : 2+n]
}

// Bytes returns the full 64-byte wire representation.
func (f Frame) Bytes() []byte {
	return f[:]
}
