package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLicenseKey(t *testing.T) {
	issued := time.Date(2025, time.March, 7, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "KMFX_JOHN_SMITH_MAR072025", LicenseKey(" John Smith ", issued))
	assert.Equal(t, "KMFX_License_John_Smith_MAR072025.txt", LicenseFileName("John Smith", issued))
}

func TestEncodeLicenseRoundTrip(t *testing.T) {
	expiry := time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC)
	key := "KMFX_ADA_MAR072025"
	payload := LicensePayload("Ada", "1001,1002", expiry, true)
	assert.Equal(t, "Ada|1001,1002|2026-03-07|1", payload)

	enc := EncodeLicense(payload, key)
	assert.Len(t, enc, 2*len(payload))
	assert.Regexp(t, `^[0-9A-F]+$`, enc)

	// 'A' ^ 'K' = 0x0A
	assert.Equal(t, "0A", enc[:2])

	got, err := DecodeLicense(enc, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = DecodeLicense("zz", key)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = DecodeLicense(enc, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "", EncodeLicense(payload, ""))
}

func TestEncodeLicenseCodePoints(t *testing.T) {
	key := LicenseKey("Zoë", time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "KMFX_ZOË_MAR072025", key)

	payload := "Zoë|1001|2026-03-07|0"
	enc := EncodeLicense(payload, key)
	assert.Len(t, enc, 2*len([]rune(payload)))
	// 'ë' (0xEB) ^ 'F' (0x46) = 0xAD, one pair for the whole code point
	assert.Equal(t, "AD", enc[4:6])

	got, err := DecodeLicense(enc, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// 'Ł' (0x141) ^ 'K' (0x4B) = 0x10A keeps all its digits
	assert.Equal(t, "10A", EncodeLicense("Ł", "K"))
}

func TestLicenseFile(t *testing.T) {
	l := License{Key: "KMFX_ADA_MAR072025", EncData: "0A2B", Expiry: time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "UNIQUE_KEY = KMFX_ADA_MAR072025\nENC_DATA = 0A2B\nExpiry: 2026-03-07\nLive Trading: No\n", LicenseFile(l))
}

func TestExpiryReminder(t *testing.T) {
	today := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Contains(t, ExpiryReminder(today, today), "expires today")
	assert.Contains(t, ExpiryReminder(today.AddDate(0, 0, 1), today), "expires tomorrow")
	assert.Contains(t, ExpiryReminder(today.AddDate(0, 0, 5), today), "in 5 days (2025-03-06)")
}
