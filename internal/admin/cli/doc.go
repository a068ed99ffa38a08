// Package cli implements licensekeeper-admin, the operator console for the
// licensing server.
//
// Every command talks to the server's /admin HTTP API. The token obtained by
// "login" is kept in a 0600 file so later invocations reuse it until
// "logout". "shell" runs the same commands in a read-eval-print loop.
package cli
