package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/flagx"
	"github.com/shelfmesh/shelfmesh/internal/timex"
)

// JsonConfig mirrors Config for JSON unmarshalling; interval fields use
// timex.Duration so files can say "5s" instead of nanoseconds.
type JsonConfig struct {
	EndpointAddr       *string         `json:"endpoint_addr"`
	DatabaseDSN        *string         `json:"database_dsn"`
	SecretKey          *string         `json:"secret_key"`
	TokenValidity      *timex.Duration `json:"token_validity"`
	LibraryName        *string         `json:"library_name"`
	BaseURL            *string         `json:"base_url"`
	LoanPeriod         *timex.Duration `json:"loan_period"`
	AutoApproveDefault *bool           `json:"auto_approve_default"`
	PeerTimeout        *timex.Duration `json:"peer_timeout"`
	S3RootUser         *string         `json:"s3_root_user"`
	S3RootPassword     *string         `json:"s3_root_password"`
	S3Bucket           *string         `json:"s3_bucket"`
	S3Region           *string         `json:"s3_region"`
	S3BaseEndpoint     *string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration from the JSON file named by the -c or
// -config flags, if any. Absent fields keep their current values. A
// file that cannot be read or parsed is a startup failure.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setIf(&config.EndpointAddr, c.EndpointAddr)
	setIf(&config.DatabaseDSN, c.DatabaseDSN)
	setIf(&config.SecretKey, c.SecretKey)
	setDurationIf(&config.TokenValidity, c.TokenValidity)
	setIf(&config.LibraryName, c.LibraryName)
	setIf(&config.BaseURL, c.BaseURL)
	setDurationIf(&config.LoanPeriod, c.LoanPeriod)
	if c.AutoApproveDefault != nil {
		config.AutoApproveDefault = *c.AutoApproveDefault
	}
	setDurationIf(&config.PeerTimeout, c.PeerTimeout)
	setIf(&config.S3RootUser, c.S3RootUser)
	setIf(&config.S3RootPassword, c.S3RootPassword)
	setIf(&config.S3Bucket, c.S3Bucket)
	setIf(&config.S3Region, c.S3Region)
	setIf(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setIf(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDurationIf(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
