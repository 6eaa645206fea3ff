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
Package server implements the master's reply engine: a simple UDP server
answering swsync requests with t2/t3 read off the reference timescale.
*/
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/swsync/swsync/protocol"
	"github.com/swsync/swsync/stats"
	"github.com/swsync/swsync/timesource"
)

// receivePollInterval is the read deadline used to poll the stop flag
const receivePollInterval = 500 * time.Millisecond

// Server is the UDP reply engine. One receive goroutine owns the socket;
// the timescale and stats sink are shared with the operator surface.
type Server struct {
	Config     *Config
	TimeSource *timesource.TimeSource
	Stats      stats.Server

	conn    *net.UDPConn
	wg      sync.WaitGroup
	running atomic.Bool

	mu         sync.Mutex
	lastClient time.Time

	totalRequests atomic.Int64
}

// Start binds the socket and launches the receive loop. It returns once
// the engine is serving; misconfiguration and bind failures are returned
// to the caller and nothing runs.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("server already running")
	}
	if err := s.Config.Validate(); err != nil {
		s.running.Store(false)
		return err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(s.Config.IP), Port: s.Config.Port})
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listening error: %w", err)
	}
	s.conn = conn

	s.wg.Add(1)
	go s.receiveLoop()
	log.Infof("listening on %s", conn.LocalAddr())
	return nil
}

// Stop terminates the receive loop and closes the socket
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.conn.Close()
	s.wg.Wait()
	s.conn = nil
	log.Info("server stopped")
}

// Addr returns the bound socket address, nil when the engine is stopped
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// IsClientConnected reports whether a client spoke within the client
// window. This is purely observational; there is no session state.
func (s *Server) IsClientConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastClient.IsZero() && time.Since(s.lastClient) <= s.Config.ClientWindow
}

// TotalRequests returns the number of requests answered since start
func (s *Server) TotalRequests() int64 {
	return s.totalRequests.Load()
}

func (s *Server) receiveLoop() {
	defer s.wg.Done()
	buf := make([]byte, protocol.PacketSizeBytes)

	for s.running.Load() {
		if err := s.conn.SetReadDeadline(time.Now().Add(receivePollInterval)); err != nil {
			if s.running.Load() {
				log.Errorf("setting read deadline: %v", err)
			}
			return
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		// t2 as early as practical: right after the receive returns
		t2 := s.TimeSource.Current()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if !s.running.Load() {
				return
			}
			log.Errorf("Failed to read packet on %s: %v", s.conn.LocalAddr(), err)
			s.Stats.UpdateCounterBy("server.read_error", 1)
			continue
		}
		s.handleRequest(buf[:n], addr, t2)
	}
}

// handleRequest answers one request. Malformed datagrams are dropped
// silently, only counters record them.
func (s *Server) handleRequest(b []byte, addr *net.UDPAddr, t2 float64) {
	request, err := protocol.BytesToRequest(b)
	if err != nil {
		log.Debugf("dropping bad packet from %s: %v", addr, err)
		s.Stats.UpdateCounterBy("server.invalid_format", 1)
		return
	}
	s.Stats.UpdateCounterBy("server.requests", 1)

	s.mu.Lock()
	s.lastClient = time.Now()
	s.mu.Unlock()

	// t3 as late as practical: right before the send
	t3 := s.TimeSource.Current()
	reply := protocol.NewReply(request.Sequence, request.T1, t2, t3)
	rb, err := reply.Bytes()
	if err != nil {
		log.Errorf("building reply: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(rb, addr); err != nil {
		log.Debugf("sending reply to %s: %v", addr, err)
		s.Stats.UpdateCounterBy("server.write_error", 1)
		return
	}
	s.Stats.UpdateCounterBy("server.responses", 1)

	total := s.totalRequests.Add(1)
	if total%1000 == 0 {
		log.Infof("served %d requests", total)
	}
	log.Debugf("served request seq=%d from %s", request.Sequence, addr)
}
