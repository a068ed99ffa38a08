package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// MachineHeaderName is the HTTP header a client uses to present its
// machine fingerprint on profile requests.
const MachineHeaderName = "X-Machine"

// MaxTrialsPerMachine is the number of trial accounts a single machine
// fingerprint may hold, bound or pending.
const MaxTrialsPerMachine = 2
