package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"sort"
)

// Validator checks that a webhook request genuinely originated from
// Twilio: base64(HMAC-SHA1(url + sorted form params, auth token)) must
// match the X-Twilio-Signature header.
type Validator struct {
	authToken string
}

func NewValidator(authToken string) *Validator {
	return &Validator{authToken: authToken}
}

func (v *Validator) Validate(url string, params map[string]string, signature string) bool {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(url))
	for _, name := range names {
		mac.Write([]byte(name))
		mac.Write([]byte(params[name]))
	}

	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
