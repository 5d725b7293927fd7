package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the header carrying the delivery signature.
const SignatureHeader = "X-Signature"

// Sign produces the signature header value for a payload:
// t=<unixSeconds>,v1=<hex hmac-sha256(secret, ts + "." + body)>.
func Sign(secret string, ts time.Time, body []byte) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, computeHMAC(secret, unix, body))
}

// VerifySignature checks a signature header against the payload, rejecting
// signatures older than the tolerance. Exposed so integration tests exercise
// exactly what vendor SDKs do.
func VerifySignature(secret, header string, body []byte, tolerance time.Duration, now time.Time) bool {
	ts, sig, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}
	if d := now.Unix() - ts; d > int64(tolerance.Seconds()) || -d > int64(tolerance.Seconds()) {
		return false
	}
	expected := computeHMAC(secret, ts, body)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func computeHMAC(secret string, unix int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", unix)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, string, bool) {
	var tsRaw, sig string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			tsRaw = value
		case "v1":
			sig = value
		}
	}
	if tsRaw == "" || sig == "" {
		return 0, "", false
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ts, sig, true
}
