package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextBasicEmail(t *testing.T) {
	out := Text("contact me at jane.doe@example.com please", Basic)
	assert.Contains(t, out, "[EMAIL_REDACTED]")
	assert.NotContains(t, out, "jane.doe@example.com")
}

func TestTextBasicMobile(t *testing.T) {
	out := Text("call 13812345678 now", Basic)
	assert.Contains(t, out, "138****5678")
}

func TestTextBasicNationalID(t *testing.T) {
	out := Text("id 110101199003071234 on file", Basic)
	assert.Contains(t, out, "110101****1234")
}

func TestTextStrictAddsIPv4MACMoney(t *testing.T) {
	out := Text("server 192.168.1.1 mac 00:1A:2B:3C:4D:5E paid $1200", Strict)
	assert.Contains(t, out, "[IP_REDACTED]")
	assert.Contains(t, out, "[MAC_REDACTED]")
	assert.Contains(t, out, "[MONEY_REDACTED]")
}

func TestTextStrictLongDigitRun(t *testing.T) {
	out := Text("order 9988776655 confirmed", Strict)
	assert.Contains(t, out, "[NUMBER_REDACTED]")
}

func TestTextBasicIsFixedPoint(t *testing.T) {
	once := Text("reach me at a@b.com", Basic)
	twice := Text(once, Basic)
	assert.Equal(t, once, twice)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Strict, ParseLevel("strict"))
	assert.Equal(t, Basic, ParseLevel("basic"))
	assert.Equal(t, Basic, ParseLevel(""))
}

func TestSecretsMasksBearerToken(t *testing.T) {
	out := Secrets("request failed: Bearer abcDEF123.456-_~ rejected")
	assert.Contains(t, out, "Bearer [REDACTED]")
	assert.NotContains(t, out, "abcDEF123")
}

func TestSecretsMasksAPIKeyField(t *testing.T) {
	out := Secrets(`{"api_key":"sk-verysecretvalue1234"}`)
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "verysecretvalue")
}

func TestSecretsMasksSKPrefix(t *testing.T) {
	out := Secrets("key=sk-abcdefghijklmnop in use")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "sk-abcdefghijklmnop")
}
