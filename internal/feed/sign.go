package feed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// signaturePath is the fixed verification path signed during login.
const signaturePath = "/users/self/verify"

// signLogin produces the base64 HMAC-SHA256 login signature over
// timestamp + "GET" + "/users/self/verify".
func signLogin(secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "GET" + signaturePath))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
