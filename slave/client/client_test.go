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

package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swsync/swsync/protocol"
	"github.com/swsync/swsync/softclock"
)

// fakeMaster answers requests on loopback. For round i it builds the reply
// so the measured delay is roughly script[i].delay and the measured offset
// roughly script[i].offset - script[i].delay.
type fakeMaster struct {
	conn   *net.UDPConn
	script []scriptedRound
}

type scriptedRound struct {
	offset   float64 // added to t1 to produce t2
	delay    float64 // inflates the measured delay via t3 < t2
	seqShift uint16  // corrupts the echoed sequence when nonzero
	flags    uint8   // reply flags, FlagReply unless overridden
	silent   bool    // drop the request instead of replying
}

func newFakeMaster(t *testing.T, script []scriptedRound) *fakeMaster {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	m := &fakeMaster{conn: conn, script: script}
	go m.serve()
	t.Cleanup(func() { conn.Close() })
	return m
}

func (m *fakeMaster) addr() string {
	return m.conn.LocalAddr().String()
}

func (m *fakeMaster) serve() {
	buf := make([]byte, 1024)
	for i := 0; ; i++ {
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		request, err := protocol.BytesToRequest(buf[:n])
		if err != nil {
			continue
		}
		round := scriptedRound{}
		if i < len(m.script) {
			round = m.script[i]
		}
		if round.silent {
			continue
		}
		flags := round.flags
		if flags == 0 {
			flags = protocol.FlagReply
		}
		t2 := request.T1 + round.offset
		t3 := t2 - 2*round.delay
		reply := &protocol.Packet{
			Flags:    flags,
			Sequence: request.Sequence + round.seqShift,
			T1:       request.T1,
			T2:       t2,
			T3:       t3,
		}
		b, err := reply.Bytes()
		if err != nil {
			continue
		}
		_, _ = m.conn.WriteToUDP(b, addr)
	}
}

func newTestClient(t *testing.T, addr string, rounds int) *Client {
	c, err := New(addr, softclock.New(softclock.DefaultPIDConfig()), 200*time.Millisecond, rounds)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBurstPicksMinimumDelay(t *testing.T) {
	// delays per round; round 3 (index 2) is the least delayed
	delays := []float64{0.010, 0.020, 0.008, 0.050, 0.015, 0.030}
	script := make([]scriptedRound, len(delays))
	for i, d := range delays {
		script[i] = scriptedRound{offset: 0.1, delay: d}
	}
	m := newFakeMaster(t, script)
	c := newTestClient(t, m.addr(), len(delays))

	sample, err := c.Burst()
	require.NoError(t, err)
	// measured delay = scripted delay + rtt/2; loopback rtt is far below the
	// millisecond spacing of the script
	require.InDelta(t, 0.008, sample.Delay, 0.004)
	require.InDelta(t, 0.1-0.008, sample.Offset, 0.004)
}

func TestBurstSequenceMismatchRejected(t *testing.T) {
	script := make([]scriptedRound, 6)
	for i := range script {
		script[i] = scriptedRound{seqShift: 1}
	}
	m := newFakeMaster(t, script)
	c := newTestClient(t, m.addr(), 6)

	_, err := c.Burst()
	require.Error(t, err)
}

func TestBurstWrongFlagsRejected(t *testing.T) {
	script := make([]scriptedRound, 6)
	for i := range script {
		script[i] = scriptedRound{flags: protocol.FlagRequest}
	}
	m := newFakeMaster(t, script)
	c := newTestClient(t, m.addr(), 6)

	_, err := c.Burst()
	require.Error(t, err)
}

func TestBurstSurvivesFailedRounds(t *testing.T) {
	// first three rounds time out, the rest answer
	script := []scriptedRound{
		{silent: true},
		{silent: true},
		{silent: true},
		{offset: 0.05, delay: 0.010},
		{offset: 0.05, delay: 0.005},
		{offset: 0.05, delay: 0.020},
	}
	m := newFakeMaster(t, script)
	c := newTestClient(t, m.addr(), 6)

	sample, err := c.Burst()
	require.NoError(t, err)
	require.InDelta(t, 0.005, sample.Delay, 0.004)
}

func TestBurstAllTimeoutsFails(t *testing.T) {
	script := make([]scriptedRound, 3)
	for i := range script {
		script[i] = scriptedRound{silent: true}
	}
	m := newFakeMaster(t, script)
	c := newTestClient(t, m.addr(), 3)

	start := time.Now()
	_, err := c.Burst()
	require.Error(t, err)
	// each round waits out its own receive deadline
	require.GreaterOrEqual(t, time.Since(start), 3*200*time.Millisecond)
}

func TestSequenceAdvancesPerRound(t *testing.T) {
	script := []scriptedRound{{offset: 0.01, delay: 0.001}, {offset: 0.01, delay: 0.001}}
	m := newFakeMaster(t, script)
	c := newTestClient(t, m.addr(), 1)

	first, err := c.Burst()
	require.NoError(t, err)
	second, err := c.Burst()
	require.NoError(t, err)
	require.Equal(t, first.Sequence+1, second.Sequence)
}

func TestNewBadAddress(t *testing.T) {
	_, err := New("not an address", softclock.New(softclock.DefaultPIDConfig()), time.Second, 6)
	require.Error(t, err)
}
