/*
Copyright (c) Facebook, Inc. and its affiliates.

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

/*
Package protocol implements the swsync packet and basic functions to work
with it. It provides quick and transparent translation between 27 bytes
and a simply accessible struct.
*/
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Flags values supported by the protocol
const (
	FlagRequest uint8 = 0x01
	FlagReply   uint8 = 0x02
)

// PacketSizeBytes sets the size of a swsync packet
const PacketSizeBytes = 27

// MaxSequence is the largest sequence number; uint16 arithmetic wraps past it
const MaxSequence uint16 = 65535

var (
	// ErrPacketTooShort is returned when there are not enough bytes to decode
	ErrPacketTooShort = fmt.Errorf("packet is shorter than %d bytes", PacketSizeBytes)
	// ErrBadFlags is returned when the flags field holds neither request nor reply
	ErrBadFlags = fmt.Errorf("unsupported flags value")
	// ErrWrongRole is returned when a packet of the opposite role is decoded
	ErrWrongRole = fmt.Errorf("packet role doesn't match parser")
)

// Packet is a swsync packet
/*
   offset  size  field
   0       1     flags            (0x01 request | 0x02 reply)
   1       2     sequence         (unsigned 16-bit, wraps at 65536)
   3       8     t1               (IEEE-754 binary64, seconds since epoch)
   11      8     t2               (IEEE-754 binary64, seconds since epoch)
   19      8     t3               (IEEE-754 binary64, seconds since epoch)

t1 is the client transmit time, t2 the server receive time and t3 the
server transmit time. t4 (client receive time) is recorded by the client
when the reply arrives and never travels on the wire. In a request t2 and
t3 are zero; in a reply t1 mirrors the request's t1 bit-for-bit.
*/
type Packet struct {
	Flags    uint8
	Sequence uint16
	T1       float64
	T2       float64
	T3       float64
}

// Bytes converts Packet to []bytes
func (p *Packet) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	err := binary.Write(&buf, binary.BigEndian, p)
	return buf.Bytes(), err
}

// BytesToPacket converts []bytes to Packet
func BytesToPacket(b []byte) (*Packet, error) {
	if len(b) < PacketSizeBytes {
		return nil, ErrPacketTooShort
	}
	packet := &Packet{}
	reader := bytes.NewReader(b[:PacketSizeBytes])
	if err := binary.Read(reader, binary.BigEndian, packet); err != nil {
		return nil, err
	}
	if packet.Flags != FlagRequest && packet.Flags != FlagReply {
		return nil, ErrBadFlags
	}
	return packet, nil
}

// NewRequest creates a request packet with given sequence and t1
func NewRequest(sequence uint16, t1 float64) *Packet {
	return &Packet{Flags: FlagRequest, Sequence: sequence, T1: t1}
}

// NewReply creates a reply packet. t1 must be echoed from the request verbatim.
func NewReply(sequence uint16, t1, t2, t3 float64) *Packet {
	return &Packet{Flags: FlagReply, Sequence: sequence, T1: t1, T2: t2, T3: t3}
}

// BytesToRequest decodes a packet and makes sure it's a request
func BytesToRequest(b []byte) (*Packet, error) {
	packet, err := BytesToPacket(b)
	if err != nil {
		return nil, err
	}
	if packet.Flags != FlagRequest {
		return nil, ErrWrongRole
	}
	return packet, nil
}

// BytesToReply decodes a packet and makes sure it's a reply
func BytesToReply(b []byte) (*Packet, error) {
	packet, err := BytesToPacket(b)
	if err != nil {
		return nil, err
	}
	if packet.Flags != FlagReply {
		return nil, ErrWrongRole
	}
	return packet, nil
}
