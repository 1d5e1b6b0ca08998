// Package config handles server configuration: defaults, an optional
// JSON overlay, and command-line flags, applied in that order.
package config

import "time"

// Config holds runtime settings for the catalogue server.
//
// Fields:
//   - EndpointAddr: bind address for the HTTP API.
//   - DatabaseDSN: postgres URL (pgx) or sqlite file path.
//   - SecretKey: HMAC secret for signing operator JWTs (HS256).
//   - TokenValidity: operator token lifetime.
//   - LibraryName / BaseURL: identity advertised to peers.
//   - LoanPeriod: due-date offset for accepted cross-peer loans.
//   - AutoApproveDefault: auto_approve value for peers created through
//     an inbound connection (peers added by an operator keep their own
//     flag).
//   - PeerTimeout: per-call timeout for the hardened peer client.
//   - S3*: object storage settings for catalogue snapshot export.
type Config struct {
	EndpointAddr       string
	DatabaseDSN        string
	SecretKey          string
	TokenValidity      time.Duration
	LibraryName        string
	BaseURL            string
	LoanPeriod         time.Duration
	AutoApproveDefault bool
	PeerTimeout        time.Duration
	S3RootUser         string
	S3RootPassword     string
	S3Bucket           string
	S3Region           string
	S3BaseEndpoint     string
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8080"
	c.DatabaseDSN = "shelfmesh.db"
	c.SecretKey = "secretKey"
	c.TokenValidity = 12 * time.Hour
	c.LibraryName = "My Library"
	c.BaseURL = ""
	c.LoanPeriod = 14 * 24 * time.Hour
	c.AutoApproveDefault = false
	c.PeerTimeout = 5 * time.Second
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "snapshots"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
