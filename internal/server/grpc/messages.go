package grpc

import "time"

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint"`
}

type RegisterResponse struct {
	Message string `json:"message"`
}

type LoginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
}

type ProfileRequest struct {
	Fingerprint string `json:"fingerprint,omitempty"`
}

type ProfileResponse struct {
	Username  string     `json:"username"`
	Plan      string     `json:"plan"`
	DaysLeft  int        `json:"days_left"`
	PaidUntil *time.Time `json:"paid_until,omitempty"`
}

type RedeemRequest struct {
	Code string `json:"code"`
}

type RedeemResponse struct {
	Days      int       `json:"days"`
	PaidUntil time.Time `json:"paid_until"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}
