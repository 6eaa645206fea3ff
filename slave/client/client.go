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
Package client implements the slave side of the swsync exchange: request
bursts against the master, per-round timestamping off the software clock,
and the minimum-delay filter that picks one measurement per burst.
*/
package client

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/swsync/swsync/protocol"
	"github.com/swsync/swsync/softclock"
)

var errNoValidSamples = fmt.Errorf("no valid samples in burst")

// Sample is the result of one request/reply round. Timestamps t1 and t4
// are read off the software clock, t2 and t3 off the master's timescale.
type Sample struct {
	T1       float64
	T2       float64
	T3       float64
	T4       float64
	Offset   float64
	Delay    float64
	Sequence uint16
}

// Client talks to one master over UDP from an ephemeral local port. It is
// owned by the sync controller's driver goroutine and is not safe for
// concurrent use.
type Client struct {
	conn     *net.UDPConn
	clock    *softclock.Clock
	sequence uint16
	timeout  time.Duration
	rounds   int
}

// New resolves the master address and opens the client socket
func New(addr string, clock *softclock.Clock, timeout time.Duration, rounds int) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving master address %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("opening client socket: %w", err)
	}
	return &Client{
		conn:     conn,
		clock:    clock,
		sequence: uint16(rand.Intn(int(protocol.MaxSequence) + 1)),
		timeout:  timeout,
		rounds:   rounds,
	}, nil
}

// Close releases the client socket
func (c *Client) Close() error {
	return c.conn.Close()
}

// round performs one request/reply exchange and returns the resulting sample
func (c *Client) round() (*Sample, error) {
	c.sequence++

	// t1 must come from the software clock right before the send
	t1 := c.clock.Now()
	request := protocol.NewRequest(c.sequence, t1)
	b, err := request.Bytes()
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(b); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, protocol.PacketSizeBytes)
	n, err := c.conn.Read(buf)
	// t4 right after the receive returns, before any decoding
	t4 := c.clock.Now()
	if err != nil {
		return nil, fmt.Errorf("receiving reply: %w", err)
	}

	reply, err := protocol.BytesToReply(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	if reply.Sequence != c.sequence {
		return nil, fmt.Errorf("sequence mismatch: want %d, got %d", c.sequence, reply.Sequence)
	}

	offset, delay := protocol.CalculateOffsetDelay(t1, reply.T2, reply.T3, t4)
	return &Sample{
		T1:       t1,
		T2:       reply.T2,
		T3:       reply.T3,
		T4:       t4,
		Offset:   offset,
		Delay:    delay,
		Sequence: reply.Sequence,
	}, nil
}

// Burst runs the configured number of sequential rounds and returns the
// sample with the smallest delay: the least-delayed exchange is the least
// perturbed one. A burst with zero valid samples fails.
func (c *Client) Burst() (*Sample, error) {
	var best *Sample
	valid := 0
	for i := 0; i < c.rounds; i++ {
		sample, err := c.round()
		if err != nil {
			log.Debugf("round %d/%d failed: %v", i+1, c.rounds, err)
			continue
		}
		valid++
		if best == nil || sample.Delay < best.Delay {
			best = sample
		}
	}
	if best == nil {
		return nil, errNoValidSamples
	}
	log.Debugf("burst done: %d/%d rounds valid, offset=%.9f delay=%.9f",
		valid, c.rounds, best.Offset, best.Delay)
	return best, nil
}
