// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

// ResponseChecksum computes the checksum the meter appends to a text
// response: the raw sum of the ASCII byte values of the data section, with
// no modulus applied.
func ResponseChecksum(data string) uint32 {
	var sum uint32
	for i := 0; i < len(data); i++ {
		sum += uint32(data[i])
	}
	return sum
}
