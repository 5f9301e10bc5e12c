package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_Required(t *testing.T) {
	v := NewValidator()

	v.Required("field", "")
	assert.True(t, v.HasErrors())
	assert.Equal(t, "field", v.Errors()[0].Field)
	assert.Contains(t, v.Errors()[0].Message, "required")

	v = NewValidator()
	v.Required("field", "  ")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Required("field", "value")
	assert.False(t, v.HasErrors())
}

func TestValidator_MinLength(t *testing.T) {
	v := NewValidator()

	v.MinLength("field", "ab", 3)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MinLength("field", "abc", 3)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MinLength("field", "abcd", 3)
	assert.False(t, v.HasErrors())
}

func TestValidator_MaxLength(t *testing.T) {
	v := NewValidator()

	v.MaxLength("field", "abcd", 3)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MaxLength("field", "abc", 3)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MaxLength("field", "ab", 3)
	assert.False(t, v.HasErrors())
}

func TestValidator_MinValue(t *testing.T) {
	v := NewValidator()

	v.MinValue("field", 5.0, 10.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MinValue("field", 10.0, 10.0)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MinValue("field", 15.0, 10.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_MaxValue(t *testing.T) {
	v := NewValidator()

	v.MaxValue("field", 15.0, 10.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.MaxValue("field", 10.0, 10.0)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.MaxValue("field", 5.0, 10.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_Positive(t *testing.T) {
	v := NewValidator()

	v.Positive("field", -1.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Positive("field", 0.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Positive("field", 1.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_NonNegative(t *testing.T) {
	v := NewValidator()

	v.NonNegative("field", -1.0)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.NonNegative("field", 0.0)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.NonNegative("field", 1.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_UnitInterval(t *testing.T) {
	v := NewValidator()

	v.UnitInterval("field", -0.1)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.UnitInterval("field", 1.1)
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.UnitInterval("field", 0.0)
	v.UnitInterval("field", 0.5)
	v.UnitInterval("field", 1.0)
	assert.False(t, v.HasErrors())
}

func TestValidator_OneOf(t *testing.T) {
	v := NewValidator()

	v.OneOf("field", "invalid", []string{"a", "b", "c"})
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.OneOf("field", "b", []string{"a", "b", "c"})
	assert.False(t, v.HasErrors())
}

func TestValidator_Email(t *testing.T) {
	v := NewValidator()

	v.Email("field", "invalid")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Email("field", "user@example.com")
	assert.False(t, v.HasErrors())
}

func TestValidator_UUID(t *testing.T) {
	v := NewValidator()

	v.UUID("field", "not-a-uuid")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.UUID("field", "550e8400-e29b-41d4-a716-446655440000")
	assert.False(t, v.HasErrors())
}

func TestValidator_Address(t *testing.T) {
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{"valid lowercase", "0x1234567890abcdef1234567890abcdef12345678", true},
		{"valid mixed case", "0xcA11bde05977b3631167028862bE2a173976CA11", true},
		{"missing prefix", "1234567890abcdef1234567890abcdef12345678", false},
		{"too short", "0x1234567890abcdef", false},
		{"too long", "0x1234567890abcdef1234567890abcdef1234567890", false},
		{"non-hex characters", "0x1234567890abcdef1234567890abcdefzzzzzzzz", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.Address("field", tt.address)
			assert.Equal(t, !tt.valid, v.HasErrors())
			assert.Equal(t, tt.valid, IsAddress(tt.address))
		})
	}
}

func TestValidator_TxHash(t *testing.T) {
	validHash := "0x" + strings.Repeat("ab", 32)

	v := NewValidator()
	v.TxHash("field", validHash)
	assert.False(t, v.HasErrors())
	assert.True(t, IsTxHash(validHash))

	v = NewValidator()
	v.TxHash("field", "0x"+strings.Repeat("ab", 20)) // address-length
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.TxHash("field", strings.Repeat("ab", 32)) // missing prefix
	assert.True(t, v.HasErrors())
}

func TestValidator_WeiAmount(t *testing.T) {
	tests := []struct {
		name  string
		value string
		valid bool
	}{
		{"zero", "0", true},
		{"small", "1000", true},
		{"large", "115792089237316195423570985008687907853269984665640564039457584007913129639935", true},
		{"decimal point", "1.5", false},
		{"negative", "-100", false},
		{"hex", "0xff", false},
		{"empty", "", false},
		{"scientific", "1e18", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.WeiAmount("field", tt.value)
			assert.Equal(t, !tt.valid, v.HasErrors())
			assert.Equal(t, tt.valid, IsWeiAmount(tt.value))
		})
	}
}

func TestValidator_TokenSymbol(t *testing.T) {
	v := NewValidator()
	v.TokenSymbol("field", "MON")
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.TokenSymbol("field", "NAD42")
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.TokenSymbol("field", "lowercase")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.TokenSymbol("field", "WAYTOOLONGSYMBOL")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.TokenSymbol("field", "")
	assert.True(t, v.HasErrors())
}

func TestValidator_Alphanumeric(t *testing.T) {
	v := NewValidator()

	v.Alphanumeric("field", "abc123")
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.Alphanumeric("field", "abc-123")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.Alphanumeric("field", "")
	assert.True(t, v.HasErrors())
}

func TestValidator_NoSpecialChars(t *testing.T) {
	v := NewValidator()

	v.NoSpecialChars("field", "normal text")
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.NoSpecialChars("field", "<script>")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.NoSpecialChars("field", "1; DROP TABLE runs")
	assert.True(t, v.HasErrors())

	v = NewValidator()
	v.NoSpecialChars("field", "select something")
	assert.True(t, v.HasErrors())
}

func TestRunRequestValidator(t *testing.T) {
	v := NewRunRequestValidator()
	v.ValidateTargetToken("0x1234567890abcdef1234567890abcdef12345678")
	v.ValidateAction("monitor")
	v.ValidateBudget("1000000000000000000")
	assert.False(t, v.HasErrors())

	v = NewRunRequestValidator()
	v.ValidateTargetToken("not-an-address")
	assert.True(t, v.HasErrors())

	v = NewRunRequestValidator()
	v.ValidateAction("moon")
	assert.True(t, v.HasErrors())

	// Actions are matched case-insensitively
	v = NewRunRequestValidator()
	v.ValidateAction("BUY")
	assert.False(t, v.HasErrors())

	// Budget is optional
	v = NewRunRequestValidator()
	v.ValidateBudget("")
	assert.False(t, v.HasErrors())

	v = NewRunRequestValidator()
	v.ValidateBudget("1.5 ether")
	assert.True(t, v.HasErrors())
}

func TestRecommendedActions(t *testing.T) {
	expected := []string{"buy", "sell", "hold", "launch", "avoid", "monitor", "investigate"}
	assert.Equal(t, expected, RecommendedActions)
}

func TestSessionGrantValidator(t *testing.T) {
	v := NewSessionGrantValidator()
	v.ValidateBudget("1000000000000000")
	v.ValidateTTL(12, 24)
	v.ValidateAllowedContracts([]string{"0x1234567890abcdef1234567890abcdef12345678"})
	assert.False(t, v.HasErrors())

	v = NewSessionGrantValidator()
	v.ValidateBudget("")
	assert.True(t, v.HasErrors())

	v = NewSessionGrantValidator()
	v.ValidateTTL(0, 24)
	assert.True(t, v.HasErrors())

	v = NewSessionGrantValidator()
	v.ValidateTTL(48, 24)
	assert.True(t, v.HasErrors())
	assert.Contains(t, v.Errors()[0].Message, "at most 24")

	v = NewSessionGrantValidator()
	v.ValidateAllowedContracts(nil)
	assert.True(t, v.HasErrors())

	v = NewSessionGrantValidator()
	v.ValidateAllowedContracts([]string{"bogus"})
	assert.True(t, v.HasErrors())
	assert.Equal(t, "allowed_contracts[0]", v.Errors()[0].Field)
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "hello", SanitizeInput("  hello  "))
	assert.Equal(t, "hello", SanitizeInput("hel\x00lo"))

	long := strings.Repeat("a", 20000)
	assert.Len(t, SanitizeInput(long), 10000)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0xca11bde05977b3631167028862be2a173976ca11",
		NormalizeAddress("0xcA11bde05977b3631167028862bE2a173976CA11"))

	// Non-addresses pass through untouched
	assert.Equal(t, "not-an-address", NormalizeAddress("not-an-address"))
}

func TestValidationErrors_Error(t *testing.T) {
	var none ValidationErrors
	assert.Equal(t, "", none.Error())
	assert.False(t, none.HasErrors())

	one := ValidationErrors{{Field: "a", Message: "bad"}}
	assert.Equal(t, "a: bad", one.Error())

	two := ValidationErrors{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}
	assert.Contains(t, two.Error(), "validation errors:")
	assert.Contains(t, two.Error(), "a: bad")
	assert.Contains(t, two.Error(), "b: worse")
}
