package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":5000")
//	-g string   gRPC bind address (e.g., ":50051")
//	-m string   account storage backend: file | postgres
//	-f string   path to the JSON data file (file backend)
//	-d string   PostgreSQL DSN
//	-k string   session backend: memory | redis | postgres
//	-r string   Redis address
//	-s string   token HMAC secret key
//	-t int      token validity, minutes
//	-q string   AMQP broker URL
//	-b string   S3 backup bucket
//	-e string   S3 base endpoint
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-m", "-f", "-d", "-k", "-r", "-s", "-t", "-q", "-b", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port to run server")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port to run server")
	fs.StringVar(&config.StorageBackend, "m", config.StorageBackend, "account storage backend (file|postgres)")
	fs.StringVar(&config.DataFile, "f", config.DataFile, "data file for the file backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SessionBackend, "k", config.SessionBackend, "session backend (memory|redis|postgres)")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenTTL := fs.Int("t", int(config.TokenTTL.Minutes()), "token validity (in minutes)")

	fs.StringVar(&config.AMQPURL, "q", config.AMQPURL, "AMQP broker URL")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 backup bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenTTL = time.Duration(*tokenTTL) * time.Minute
}
