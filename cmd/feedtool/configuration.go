// SPDX-FileCopyrightText: 2026 The agentproto Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/tunnelfeed/agentproto/pkg/control"
	"github.com/tunnelfeed/agentproto/pkg/feed"
)

// serveConfig describes the TOML-configuration of the "serve" command.
type serveConfig struct {
	Logging logConf
	Serve   serveConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// serveConf describes the Serve-configuration block.
type serveConf struct {
	Listen string
	Spool  string
}

// feedConf describes a ControlFeed description file, used by "create" and the spool directory.
type feedConf struct {
	Kind      string
	NewClient newClientConf `toml:"new-client"`
	Response  responseConf
}

// newClientConf describes a NewClient feed.
type newClientConf struct {
	ConnectAddr    string `toml:"connect-addr"`
	PeerAddr       string `toml:"peer-addr"`
	ClaimAddr      string `toml:"claim-addr"`
	ClaimToken     string `toml:"claim-token"`
	TunnelServerID uint64 `toml:"tunnel-server-id"`
	DataCenterID   uint32 `toml:"data-center-id"`
}

// responseTypes lists the supported values of response.type.
var responseTypes = []string{
	"pong", "invalid-signature", "unauthorized", "request-queued", "try-again-later",
	"agent-registered", "agent-port-mapping", "udp-channel-details",
}

// responseConf describes a Response feed. Only the fields of the selected type are used.
type responseConf struct {
	RequestID uint64 `toml:"request-id"`
	Type      string

	// pong
	RequestNow      uint64  `toml:"request-now"`
	ServerNow       uint64  `toml:"server-now"`
	ServerID        uint64  `toml:"server-id"`
	DataCenterID    uint32  `toml:"data-center-id"`
	ClientAddr      string  `toml:"client-addr"`
	SessionExpireAt *uint64 `toml:"session-expire-at"`

	// pong, udp-channel-details
	TunnelAddr string `toml:"tunnel-addr"`

	// udp-channel-details
	Token string

	// agent-registered, agent-port-mapping
	SessionID uint64 `toml:"session-id"`
	AccountID uint64 `toml:"account-id"`
	AgentID   uint64 `toml:"agent-id"`

	// agent-registered
	ExpiresAt uint64 `toml:"expires-at"`

	// agent-port-mapping
	IP        string
	PortStart uint16 `toml:"port-start"`
	PortEnd   uint16 `toml:"port-end"`
	Proto     string
	Found     bool
}

// setupLogging configures logrus based on the Logging-configuration block.
func setupLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseServeConfig reads the "serve" configuration and sets up logging.
func parseServeConfig(filename string) (conf serveConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	setupLogging(conf.Logging)

	if conf.Serve.Listen == "" {
		err = multierror.Append(err, fmt.Errorf("serve.listen is empty"))
	}
	if conf.Serve.Spool == "" {
		err = multierror.Append(err, fmt.Errorf("serve.spool is empty"))
	}
	return
}

// parseFeedFile reads a ControlFeed description file.
func parseFeedFile(filename string) (feed.ControlFeed, error) {
	var conf feedConf
	if _, err := toml.DecodeFile(filename, &conf); err != nil {
		return nil, err
	}
	return conf.controlFeed()
}

// parseFeed reads a ControlFeed description from a string.
func parseFeed(data string) (feed.ControlFeed, error) {
	var conf feedConf
	if _, err := toml.Decode(data, &conf); err != nil {
		return nil, err
	}
	return conf.controlFeed()
}

func (conf feedConf) controlFeed() (feed.ControlFeed, error) {
	switch conf.Kind {
	case "new-client":
		nc, err := conf.NewClient.newClient()
		if err != nil {
			return nil, err
		}
		return feed.NewNewClient(nc), nil

	case "response":
		env, err := conf.Response.envelope()
		if err != nil {
			return nil, err
		}
		return feed.NewResponse(env), nil

	default:
		return nil, fmt.Errorf("unknown kind \"%s\"", conf.Kind)
	}
}

// parseAddrPort wraps netip.ParseAddrPort with the configuration key for error messages.
func parseAddrPort(key, value string) (addr netip.AddrPort, err error) {
	if addr, err = netip.ParseAddrPort(value); err != nil {
		err = fmt.Errorf("%s: %w", key, err)
	}
	return
}

// parseToken decodes a hex token with the configuration key for error messages.
func parseToken(key, value string) (token []byte, err error) {
	if token, err = hex.DecodeString(value); err != nil {
		err = fmt.Errorf("%s: %w", key, err)
	}
	return
}

func (conf newClientConf) newClient() (feed.NewClient, error) {
	var (
		nc   feed.NewClient
		err  error
		errs error
	)

	if nc.ConnectAddr, err = parseAddrPort("connect-addr", conf.ConnectAddr); err != nil {
		errs = multierror.Append(errs, err)
	}
	if nc.PeerAddr, err = parseAddrPort("peer-addr", conf.PeerAddr); err != nil {
		errs = multierror.Append(errs, err)
	}
	if nc.ClaimInstructions.Address, err = parseAddrPort("claim-addr", conf.ClaimAddr); err != nil {
		errs = multierror.Append(errs, err)
	}
	if nc.ClaimInstructions.Token, err = parseToken("claim-token", conf.ClaimToken); err != nil {
		errs = multierror.Append(errs, err)
	}

	nc.TunnelServerID = conf.TunnelServerID
	nc.DataCenterID = conf.DataCenterID

	if errs != nil {
		return feed.NewClient{}, errs
	}
	return nc, nil
}

// parsePortProto parses the name of a control.PortProto, e.g., "tcp".
func parsePortProto(value string) (control.PortProto, error) {
	for _, pp := range []control.PortProto{control.PortProtoBoth, control.PortProtoTCP, control.PortProtoUDP} {
		if pp.String() == value {
			return pp, nil
		}
	}
	return 0, fmt.Errorf("proto: unknown protocol \"%s\", expected both, tcp or udp", value)
}

func (conf responseConf) agentSessionID() control.AgentSessionID {
	return control.AgentSessionID{
		SessionID: conf.SessionID,
		AccountID: conf.AccountID,
		AgentID:   conf.AgentID,
	}
}

func (conf responseConf) pong() (*control.Pong, error) {
	var (
		pong = &control.Pong{
			RequestNow:      conf.RequestNow,
			ServerNow:       conf.ServerNow,
			ServerID:        conf.ServerID,
			DataCenterID:    conf.DataCenterID,
			SessionExpireAt: conf.SessionExpireAt,
		}

		err  error
		errs error
	)

	if pong.ClientAddr, err = parseAddrPort("client-addr", conf.ClientAddr); err != nil {
		errs = multierror.Append(errs, err)
	}
	if pong.TunnelAddr, err = parseAddrPort("tunnel-addr", conf.TunnelAddr); err != nil {
		errs = multierror.Append(errs, err)
	}

	if errs != nil {
		return nil, errs
	}
	return pong, nil
}

func (conf responseConf) agentPortMapping() (*control.AgentPortMapping, error) {
	var errs error

	ip, err := netip.ParseAddr(conf.IP)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("ip: %w", err))
	}
	proto, err := parsePortProto(conf.Proto)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	if conf.PortStart > conf.PortEnd {
		errs = multierror.Append(errs, fmt.Errorf("port-start %d exceeds port-end %d", conf.PortStart, conf.PortEnd))
	}

	if errs != nil {
		return nil, errs
	}

	apm := &control.AgentPortMapping{
		Range: control.PortRange{
			IP:        ip,
			PortStart: conf.PortStart,
			PortEnd:   conf.PortEnd,
			Proto:     proto,
		},
	}
	if conf.Found {
		id := conf.agentSessionID()
		apm.ToAgent = &id
	}
	return apm, nil
}

func (conf responseConf) envelope() (env control.ResponseEnvelope, err error) {
	env.RequestID = conf.RequestID

	switch conf.Type {
	case "pong":
		pong, pongErr := conf.pong()
		if pongErr != nil {
			return control.ResponseEnvelope{}, pongErr
		}
		env.Content = pong

	case "agent-port-mapping":
		apm, apmErr := conf.agentPortMapping()
		if apmErr != nil {
			return control.ResponseEnvelope{}, apmErr
		}
		env.Content = apm

	case "invalid-signature":
		env.Content = &control.InvalidSignature{}

	case "unauthorized":
		env.Content = &control.Unauthorized{}

	case "request-queued":
		env.Content = &control.RequestQueued{}

	case "try-again-later":
		env.Content = &control.TryAgainLater{}

	case "agent-registered":
		env.Content = &control.AgentRegistered{
			ID:        conf.agentSessionID(),
			ExpiresAt: conf.ExpiresAt,
		}

	case "udp-channel-details":
		details := &control.UdpChannelDetails{}
		var errs error
		if addr, addrErr := parseAddrPort("tunnel-addr", conf.TunnelAddr); addrErr != nil {
			errs = multierror.Append(errs, addrErr)
		} else {
			details.TunnelAddr = addr
		}
		if token, tokenErr := parseToken("token", conf.Token); tokenErr != nil {
			errs = multierror.Append(errs, tokenErr)
		} else {
			details.Token = token
		}
		if errs != nil {
			return control.ResponseEnvelope{}, errs
		}
		env.Content = details

	default:
		return control.ResponseEnvelope{}, fmt.Errorf("unknown response.type \"%s\", expected one of %s",
			conf.Type, strings.Join(responseTypes, ", "))
	}

	return
}
