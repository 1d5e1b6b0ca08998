package config

import (
	"flag"
	"os"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   database DSN (postgres URL or sqlite path)
//	-s string   JWT HMAC secret key
//	-t int      operator token validity, minutes
//	-n string   library display name
//	-u string   advertised base URL
//	-l int      loan period, days
//	-y          auto-approve requests from newly connected peers
//	-o int      peer call timeout, seconds
//
// The function first filters os.Args to only the flags it recognizes
// using flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-n", "-u", "-l", "-y", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.LibraryName, "n", config.LibraryName, "library display name")
	fs.StringVar(&config.BaseURL, "u", config.BaseURL, "advertised base URL")
	fs.BoolVar(&config.AutoApproveDefault, "y", config.AutoApproveDefault, "auto-approve new peers")

	tokenValidity := fs.Int("t", int(config.TokenValidity.Minutes()), "token validity (in minutes)")
	loanPeriod := fs.Int("l", int(config.LoanPeriod.Hours()/24), "loan period (in days)")
	peerTimeout := fs.Int("o", int(config.PeerTimeout.Seconds()), "peer call timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidity = time.Duration(*tokenValidity) * time.Minute
	config.LoanPeriod = time.Duration(*loanPeriod) * 24 * time.Hour
	config.PeerTimeout = time.Duration(*peerTimeout) * time.Second
}
