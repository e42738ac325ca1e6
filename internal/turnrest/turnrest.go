// Package turnrest mints coturn-compatible TURN REST (ephemeral) credentials
// for the ICE servers handed to browser peers.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
// Algorithm:
//
//	username   = <unix_expiry_timestamp>:<username_prefix>[:<peer_id>]
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Expiry is computed using the server clock in UTC:
//
//	unix_expiry_timestamp = now_utc_unix + ttl_seconds
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSharedSecretRequired = errors.New("shared secret is required")
	errColon                = errors.New("must not contain ':'")
)

type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string
	now            func() time.Time

	idSource func() string
}

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Now            func() time.Time
	// IDSource supplies the per-request id appended by GenerateRandom.
	// Defaults to a random UUID.
	IDSource func() string
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrSharedSecretRequired
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix " + errColon.Error())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IDSource == nil {
		cfg.IDSource = uuid.NewString
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
		idSource:       cfg.IDSource,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// TTL is how long minted credentials stay valid.
func (g *Generator) TTL() time.Duration {
	return time.Duration(g.ttlSeconds) * time.Second
}

// Generate mints credentials bound to id. An empty id yields the plain
// "<expiry>:<prefix>" username.
func (g *Generator) Generate(id string) (Credentials, error) {
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("id " + errColon.Error())
	}
	expiryUnix := g.now().UTC().Unix() + g.ttlSeconds
	username := strconv.FormatInt(expiryUnix, 10) + ":" + g.usernamePrefix
	if id != "" {
		username += ":" + id
	}
	return Credentials{
		Username:   username,
		Credential: signUsername(g.sharedSecret, username),
		ExpiryUnix: expiryUnix,
	}, nil
}

func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.idSource())
}

func signUsername(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	sum := mac.Sum(nil)
	return base64.StdEncoding.EncodeToString(sum)
}
