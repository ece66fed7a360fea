// SPDX-License-Identifier: GPL-3.0-or-later

package roscore

import (
	"net"
	"os"
	"time"
)

// Config holds common configuration for a [Node] and the components it
// owns (transports, connections, the directory client).
//
// Pass this to constructor functions to pre-wire dependencies. All fields
// have sensible defaults set by [NewConfig]; the node-identity fields
// (Namespace, MasterURI, AdvertiseHost, LogDir) are additionally seeded
// from the environment, and these and NodeName may be overridden by the
// special `__key:=value` argv tokens that [Init] reads before it freezes
// them.
type Config struct {
	// Dialer is used when opening outbound peer connections.
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// MasterURI is the directory's URI.
	//
	// Set by [NewConfig] from the MASTER_URI environment variable.
	// Overridden by the __master remapping.
	MasterURI string

	// NodeName is this node's name, before namespace resolution.
	//
	// Overridden by the __name remapping.
	NodeName string

	// Namespace is the default namespace relative names resolve against.
	//
	// Set by [NewConfig] from the NAMESPACE environment variable.
	// Overridden by the __ns remapping.
	Namespace string

	// AdvertiseHost is the host peers should use to reach this node.
	//
	// Set by [NewConfig] from the IP, then HOSTNAME, environment
	// variables, falling back to the OS hostname. Overridden by the
	// __ip or __hostname remapping.
	AdvertiseHost string

	// LogDir is the directory for log files.
	//
	// Set by [NewConfig] from the LOG_DIR environment variable.
	// Overridden by the __log remapping.
	LogDir string

	// Remappings is an initial remap table. [Init] merges it with the
	// `local:=remote` argv tokens; an argv token wins over an entry here
	// for the same name.
	Remappings map[string]string
}

// NewConfig creates a [*Config] with sensible defaults, seeded from the
// process environment per the CLI surface described in spec §6:
// MASTER_URI, IP/HOSTNAME, NAMESPACE, LOG_DIR.
func NewConfig() *Config {
	host := os.Getenv("IP")
	if host == "" {
		host = os.Getenv("HOSTNAME")
	}
	if host == "" {
		host, _ = os.Hostname()
	}
	return &Config{
		Dialer:        &net.Dialer{},
		ErrClassifier: DefaultErrClassifier,
		TimeNow:       time.Now,
		MasterURI:     os.Getenv("MASTER_URI"),
		Namespace:     defaultString(os.Getenv("NAMESPACE"), "/"),
		AdvertiseHost: host,
		LogDir:        os.Getenv("LOG_DIR"),
		Remappings:    map[string]string{},
	}
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
