package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layer. Every field maps onto one environment variable
// so the file and the environment share a single parsing path.
type fileConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	Mode            string   `yaml:"mode"`
	LogFormat       string   `yaml:"log_format"`
	LogLevel        string   `yaml:"log_level"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	StaticDir       string   `yaml:"static_dir"`

	Signaling struct {
		IdleTimeout          string `yaml:"idle_timeout"`
		PingInterval         string `yaml:"ping_interval"`
		WriteTimeout         string `yaml:"write_timeout"`
		MaxMessageBytes      *int64 `yaml:"max_message_bytes"`
		MaxMessagesPerSecond *int   `yaml:"max_messages_per_second"`
	} `yaml:"signaling"`

	ICE struct {
		ServersJSON    string   `yaml:"servers_json"`
		STUNURLs       []string `yaml:"stun_urls"`
		TURNURLs       []string `yaml:"turn_urls"`
		TURNUsername   string   `yaml:"turn_username"`
		TURNCredential string   `yaml:"turn_credential"`
	} `yaml:"ice"`

	TURNREST struct {
		SharedSecret   string `yaml:"shared_secret"`
		TTLSeconds     *int64 `yaml:"ttl_seconds"`
		UsernamePrefix string `yaml:"username_prefix"`
	} `yaml:"turn_rest"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

func readFileConfig(path string) (fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	fc, err := decodeFileConfig(f)
	if err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func decodeFileConfig(r io.Reader) (fileConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return fileConfig{}, err
	}
	var fc fileConfig
	if len(bytes.TrimSpace(data)) == 0 {
		return fc, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, err
	}
	return fc, nil
}

// values flattens the file into environment-variable keys. Unset fields are
// omitted so they do not shadow built-in defaults.
func (fc fileConfig) values() map[string]string {
	out := make(map[string]string)
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			out[key] = value
		}
	}

	set(envVarListenAddr, fc.ListenAddr)
	set(envVarMode, fc.Mode)
	set(envVarLogFormat, fc.LogFormat)
	set(envVarLogLevel, fc.LogLevel)
	set(envVarShutdownTimeout, fc.ShutdownTimeout)
	set(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	set(envVarStaticDir, fc.StaticDir)

	set(envVarSignalingWSIdleTimeout, fc.Signaling.IdleTimeout)
	set(envVarSignalingWSPingInterval, fc.Signaling.PingInterval)
	set(envVarSignalingWSWriteTimeout, fc.Signaling.WriteTimeout)
	if fc.Signaling.MaxMessageBytes != nil {
		set(envVarMaxSignalingMessageBytes, strconv.FormatInt(*fc.Signaling.MaxMessageBytes, 10))
	}
	if fc.Signaling.MaxMessagesPerSecond != nil {
		set(envVarMaxSignalingMessagesPerSecond, strconv.Itoa(*fc.Signaling.MaxMessagesPerSecond))
	}

	set(envICEServersJSON, fc.ICE.ServersJSON)
	set(envStunURLs, strings.Join(fc.ICE.STUNURLs, ","))
	set(envTurnURLs, strings.Join(fc.ICE.TURNURLs, ","))
	set(envTurnUsername, fc.ICE.TURNUsername)
	set(envTurnCredential, fc.ICE.TURNCredential)

	set(envVarTURNRESTSharedSecret, fc.TURNREST.SharedSecret)
	if fc.TURNREST.TTLSeconds != nil {
		set(envVarTURNRESTTTLSeconds, strconv.FormatInt(*fc.TURNREST.TTLSeconds, 10))
	}
	set(envVarTURNRESTUsernamePrefix, fc.TURNREST.UsernamePrefix)

	set(envVarNATSURL, fc.NATS.URL)
	set(envVarNATSSubjectPrefix, fc.NATS.SubjectPrefix)
	return out
}
