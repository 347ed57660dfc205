// Package metrics declares the Prometheus instrumentation surface for the
// whole stack, one vector per layer, in the same package-level
// promauto-registered-var style as doublezero's telemetry services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SLIPFramesEncoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipstack_slip_frames_encoded_total",
		Help: "Total number of SLIP frames encoded for transmission.",
	})

	SLIPFramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipstack_slip_frames_decoded_total",
		Help: "Total number of SLIP frames successfully decoded.",
	})

	SLIPFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slipstack_slip_frames_dropped_total",
		Help: "Total number of inbound partial frames discarded by the SLIP decoder, by reason.",
	}, []string{"reason"})

	IPv4Forwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipstack_ipv4_forwarded_total",
		Help: "Total number of IPv4 datagrams forwarded toward a next hop.",
	})

	IPv4HostDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipstack_ipv4_host_delivered_total",
		Help: "Total number of IPv4 datagrams delivered to the local host.",
	})

	IPv4TTLExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipstack_ipv4_ttl_expired_total",
		Help: "Total number of IPv4 datagrams that triggered an ICMP Time Exceeded.",
	})

	TCPSegmentsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipstack_tcp_segments_sent_total",
		Help: "Total number of TCP segments transmitted for the first time; retransmissions are counted separately.",
	})

	TCPSegmentsRetransmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipstack_tcp_segments_retransmitted_total",
		Help: "Total number of TCP segments retransmitted after a timeout.",
	})

	TCPCongestionWindow = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slipstack_tcp_congestion_window_segments",
		Help: "Current AIMD congestion window, in MSS-sized segments, per connection.",
	}, []string{"peer"})

	TCPConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slipstack_tcp_connections_active",
		Help: "Current number of open TCP connections.",
	})

	IRCCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slipstack_irc_commands_total",
		Help: "Total number of IRC commands interpreted, by verb.",
	}, []string{"verb"})

	IRCNicknamesRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slipstack_irc_nicknames_registered",
		Help: "Current number of registered IRC nicknames.",
	})

	IRCChannelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slipstack_irc_channels_active",
		Help: "Current number of non-empty IRC channels.",
	})
)
