package gatewaywan

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/pkg/lorawan"
)

// UplinkHandler is invoked once per rxpk found in a PUSH_DATA body, after
// C5 has ACKed the datagram and resolved the sending gateway. It runs in
// its own goroutine per §5's "each incoming UDP datagram spawns an
// independent logical task".
type UplinkHandler func(ctx context.Context, gatewayHost string, rxpk lorawan.RXPK)

// StatHandler is invoked once per stat object found in a PUSH_DATA body.
type StatHandler func(gatewayHost string, stat lorawan.GwStat)

// Server terminates GWMP over one UDP socket.
type Server struct {
	conn     *net.UDPConn
	registry *Registry
	dedup    *DuplicateCache

	OnUplink UplinkHandler
	OnStat   StatHandler
}

// NewServer binds listen:port and wires it to registry/dedup. Binding is
// separated from Serve so the engine's reload path can rebind on a
// listen/port change without tearing down the registry.
func NewServer(listen string, port int, registry *Registry, dedup *DuplicateCache) (*Server, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(listen), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("gatewaywan: listen %s:%d: %w", listen, port, err)
	}
	return &Server{conn: conn, registry: registry, dedup: dedup}, nil
}

// Serve reads datagrams until ctx is cancelled. Each datagram is handled
// in its own goroutine; the read loop never blocks on handling.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	buf := make([]byte, 65536)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("gatewaywan: udp read error")
			continue
		}
		datagram := append([]byte(nil), buf[:n]...)
		go s.handleDatagram(ctx, datagram, addr)
	}
}

// recoverDatagramPanic logs a panic raised while handling one datagram or
// one rxpk, so a single bad frame does not stop the process.
func recoverDatagramPanic() {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Msg("gatewaywan: recovered panic in datagram handling")
	}
}

func (s *Server) handleDatagram(ctx context.Context, b []byte, addr *net.UDPAddr) {
	defer recoverDatagramPanic()
	env, body, err := lorawan.UnmarshalEnvelope(b)
	if err != nil {
		log.Error().Err(err).Msg("gatewaywan: malformed gwmp envelope")
		return
	}
	if env.Version != lorawan.ProtocolVersion {
		log.Error().Int("version", int(env.Version)).Msg("gatewaywan: unsupported gwmp version, dropping")
		return
	}

	switch env.Identifier {
	case lorawan.PushData:
		s.handlePushData(ctx, env, body, addr)
	case lorawan.PullData:
		s.handlePullData(env, body, addr)
	case lorawan.TxAck:
		log.Debug().Str("addr", addr.String()).Msg("gatewaywan: tx_ack received")
	default:
		log.Error().Int("identifier", int(env.Identifier)).Msg("gatewaywan: unsupported gwmp identifier, dropping")
	}
}

func gatewayHostFromAddr(addr *net.UDPAddr) string { return addr.IP.String() }

func (s *Server) handlePushData(ctx context.Context, env lorawan.Envelope, body []byte, addr *net.UDPAddr) {
	if len(body) < 8 {
		log.Error().Msg("gatewaywan: push_data body too short")
		return
	}
	gatewayEUI := binary.LittleEndian.Uint64(body[0:8])
	_ = gatewayEUI
	host := gatewayHostFromAddr(addr)

	gw := s.registry.Lookup(host)
	if gw == nil {
		log.Error().Str("host", host).Msg("gatewaywan: push_data from unregistered gateway, dropping")
		return
	}

	// PUSH_ACK is owed regardless of whether the JSON body parses, so the
	// gateway's keep-alive accounting isn't thrown off by a malformed
	// payload from a registered peer.
	ack := lorawan.Envelope{Version: env.Version, Token: env.Token, Identifier: lorawan.PushAck}
	if _, err := s.conn.WriteToUDP(ack.Marshal(), addr); err != nil {
		log.Error().Err(err).Msg("gatewaywan: push_ack send failed")
	}

	var parsed lorawan.PushDataBody
	if err := json.Unmarshal(body[8:], &parsed); err != nil {
		log.Error().Err(err).Msg("gatewaywan: malformed push_data json")
		return
	}

	if parsed.Stat != nil && s.OnStat != nil {
		s.OnStat(host, *parsed.Stat)
	}
	for _, rxpk := range parsed.RXPK {
		if s.OnUplink != nil {
			go func(rxpk lorawan.RXPK) {
				defer recoverDatagramPanic()
				s.OnUplink(ctx, host, rxpk)
			}(rxpk)
		}
	}
}

func (s *Server) handlePullData(env lorawan.Envelope, body []byte, addr *net.UDPAddr) {
	if len(body) < 8 {
		log.Error().Msg("gatewaywan: pull_data body too short")
		return
	}
	host := gatewayHostFromAddr(addr)
	gw := s.registry.Lookup(host)
	if gw == nil {
		log.Error().Str("host", host).Msg("gatewaywan: pull_data from unregistered gateway, dropping")
		return
	}
	s.registry.RefreshPullAddr(host, addr.IP.String(), addr.Port)

	ackBody := append([]byte(nil), body[0:8]...)
	ack := append(env2Ack(env).Marshal(), ackBody...)
	if _, err := s.conn.WriteToUDP(ack, addr); err != nil {
		log.Error().Err(err).Msg("gatewaywan: pull_ack send failed")
	}
}

func env2Ack(env lorawan.Envelope) lorawan.Envelope {
	return lorawan.Envelope{Version: env.Version, Token: env.Token, Identifier: lorawan.PullAck}
}

// SendDownlink transmits txpk to the gateway identified by host, via its
// cached PULL_DATA source address, per §4.5. It returns an error if the
// gateway is unknown or has never sent a PULL_DATA (no cached port).
func (s *Server) SendDownlink(host string, txpk lorawan.TXPK) error {
	gw := s.registry.Lookup(host)
	if gw == nil {
		return fmt.Errorf("gatewaywan: unknown gateway host %q", host)
	}
	if gw.LastPullAddr == "" || gw.Port == 0 {
		return fmt.Errorf("gatewaywan: gateway %q has no cached downlink address", host)
	}
	addr := &net.UDPAddr{IP: net.ParseIP(gw.LastPullAddr), Port: gw.Port}

	body := lorawan.PullRespBody{TXPK: txpk}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	env := lorawan.Envelope{Version: lorawan.ProtocolVersion, Token: uint16(time.Now().UnixNano()), Identifier: lorawan.PullResp}
	out := append(env.Marshal(), payload...)
	_, err = s.conn.WriteToUDP(out, addr)
	return err
}

// Close releases the UDP socket.
func (s *Server) Close() error { return s.conn.Close() }
