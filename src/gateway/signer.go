package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// CLOB L2 auth: HMAC-SHA256 over timestamp + method + path + body with the
// base64url-decoded API secret, result base64url-encoded. The headers carry
// the key, passphrase, funder address, timestamp and signature.
const (
	headerAPIKey     = "POLY_API_KEY"
	headerSignature  = "POLY_SIGNATURE"
	headerTimestamp  = "POLY_TIMESTAMP"
	headerPassphrase = "POLY_PASSPHRASE"
	headerAddress    = "POLY_ADDRESS"
)

type signer struct {
	apiKey     string
	apiSecret  string // base64url-encoded
	passphrase string
	address    string
}

func timestampSeconds() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func (s signer) sign(timestamp, method, path, body string) (string, error) {
	secret, err := base64.URLEncoding.DecodeString(s.apiSecret)
	if err != nil {
		return "", fmt.Errorf("base64 decode api secret failed: %w", err)
	}

	msg := timestamp + method + path + body

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(msg))

	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// headers returns the full auth header set for a request.
func (s signer) headers(method, path, body string) (map[string]string, error) {
	ts := timestampSeconds()

	sig, err := s.sign(ts, method, path, body)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		headerAPIKey:     s.apiKey,
		headerSignature:  sig,
		headerTimestamp:  ts,
		headerPassphrase: s.passphrase,
		headerAddress:    s.address,
	}, nil
}
