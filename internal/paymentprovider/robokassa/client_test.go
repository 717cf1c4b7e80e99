package robokassa

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khabusiness/rusbridge-orders/internal/config"
)

func testConfig() config.Robokassa {
	return config.Robokassa{
		MerchantLogin: "rusbridge",
		Password1:     "pass-one",
		Password2:     "pass-two",
		HashAlgo:      "md5",
		SuccessURL:    "https://example.org/success",
		FailURL:       "https://example.org/fail",
	}
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestNew_UnsupportedAlgo(t *testing.T) {
	cfg := testConfig()
	cfg.HashAlgo = "crc32"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestBuildPaymentLink(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)

	link := client.BuildPaymentLink("RB-20240101120000-AB12", 42, 2500, "ChatGPT Plus (RB-20240101120000-AB12)")

	assert.Equal(t, int64(42), link.InvID)
	assert.Equal(t, "2500.00", link.OutSum)
	assert.Equal(t, "robokassa", link.ProviderMode)

	parsed, err := url.Parse(link.PayURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "rusbridge", query.Get("MerchantLogin"))
	assert.Equal(t, "2500.00", query.Get("OutSum"))
	assert.Equal(t, "42", query.Get("InvId"))
	assert.Equal(t, "RB-20240101120000-AB12", query.Get("Shp_order_id"))
	assert.Empty(t, query.Get("IsTest"))

	wantSig := md5hex(strings.Join([]string{
		"rusbridge", "2500.00", "42", "pass-one", "Shp_order_id=RB-20240101120000-AB12",
	}, ":"))
	assert.Equal(t, wantSig, query.Get("SignatureValue"))
}

func TestBuildPaymentLink_TestFlag(t *testing.T) {
	cfg := testConfig()
	cfg.IsTest = true
	client, err := New(cfg)
	require.NoError(t, err)

	link := client.BuildPaymentLink("RB-1", 1, 100, "x")
	parsed, err := url.Parse(link.PayURL)
	require.NoError(t, err)
	assert.Equal(t, "1", parsed.Query().Get("IsTest"))
}

func TestBuildPaymentLink_Stub(t *testing.T) {
	cfg := testConfig()
	cfg.PaymentStub = true
	cfg.StubSuccessURL = "https://example.org/stub-ok"
	cfg.StubFailURL = "https://example.org/stub-fail"
	client, err := New(cfg)
	require.NoError(t, err)

	link := client.BuildPaymentLink("RB-1", 7, 100, "x")
	assert.Equal(t, "stub", link.ProviderMode)
	assert.Equal(t, "https://example.org/stub-ok", link.PayURL)
	assert.Equal(t, "100.00", link.OutSum)
}

func TestVerifyResultSignature(t *testing.T) {
	client, err := New(testConfig())
	require.NoError(t, err)

	params := map[string]string{
		"OutSum":       "2500.00",
		"InvId":        "42",
		"Shp_order_id": "RB-20240101120000-AB12",
	}
	base := strings.Join([]string{"2500.00", "42", "pass-two", "Shp_order_id=RB-20240101120000-AB12"}, ":")
	params["SignatureValue"] = strings.ToUpper(md5hex(base)) // регистр подписи не важен

	assert.True(t, client.VerifyResultSignature(params))

	params["SignatureValue"] = md5hex("tampered")
	assert.False(t, client.VerifyResultSignature(params))

	// Подпись должна покрывать Shp-поля: подмена order_id её ломает.
	params["SignatureValue"] = md5hex(base)
	params["Shp_order_id"] = "RB-other"
	assert.False(t, client.VerifyResultSignature(params))
}
