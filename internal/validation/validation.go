package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var (
	addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashRegex  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	weiRegex     = regexp.MustCompile(`^[0-9]+$`)
)

// Validator provides validation utilities
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// MinLength validates minimum string length
func (v *Validator) MinLength(field, value string, min int) {
	if len(value) < min {
		v.AddError(field, fmt.Sprintf("must be at least %d characters", min))
	}
}

// MaxLength validates maximum string length
func (v *Validator) MaxLength(field, value string, max int) {
	if len(value) > max {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// MinValue validates minimum numeric value
func (v *Validator) MinValue(field string, value, min float64) {
	if value < min {
		v.AddError(field, fmt.Sprintf("must be at least %v", min))
	}
}

// MaxValue validates maximum numeric value
func (v *Validator) MaxValue(field string, value, max float64) {
	if value > max {
		v.AddError(field, fmt.Sprintf("must be at most %v", max))
	}
}

// Positive validates that a number is positive
func (v *Validator) Positive(field string, value float64) {
	if value <= 0 {
		v.AddError(field, "must be positive")
	}
}

// NonNegative validates that a number is non-negative
func (v *Validator) NonNegative(field string, value float64) {
	if value < 0 {
		v.AddError(field, "must be non-negative")
	}
}

// UnitInterval validates that a score lies in [0, 1]
func (v *Validator) UnitInterval(field string, value float64) {
	if value < 0 || value > 1 {
		v.AddError(field, "must be in [0, 1]")
	}
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// Email validates email format
func (v *Validator) Email(field, value string) {
	emailRegex := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	if !emailRegex.MatchString(value) {
		v.AddError(field, "must be a valid email address")
	}
}

// UUID validates UUID format
func (v *Validator) UUID(field, value string) {
	if _, err := uuid.Parse(value); err != nil {
		v.AddError(field, "must be a valid UUID")
	}
}

// Address validates EVM address format (0x followed by 40 hex characters)
func (v *Validator) Address(field, value string) {
	if !addressRegex.MatchString(value) {
		v.AddError(field, "must be a valid EVM address (0x + 40 hex characters)")
	}
}

// TxHash validates transaction hash format (0x followed by 64 hex characters)
func (v *Validator) TxHash(field, value string) {
	if !txHashRegex.MatchString(value) {
		v.AddError(field, "must be a valid transaction hash (0x + 64 hex characters)")
	}
}

// WeiAmount validates that a value is a base-10 wei string
func (v *Validator) WeiAmount(field, value string) {
	if !weiRegex.MatchString(value) {
		v.AddError(field, "must be a decimal wei amount")
	}
}

// TokenSymbol validates a token ticker (uppercase alphanumerics, 1-12 chars)
func (v *Validator) TokenSymbol(field, value string) {
	symbolRegex := regexp.MustCompile(`^[A-Z0-9]{1,12}$`)
	if !symbolRegex.MatchString(value) {
		v.AddError(field, "must be a valid token symbol (e.g., MON)")
	}
}

// Alphanumeric validates that a string contains only alphanumeric characters
func (v *Validator) Alphanumeric(field, value string) {
	alphanumericRegex := regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	if !alphanumericRegex.MatchString(value) {
		v.AddError(field, "must contain only alphanumeric characters")
	}
}

// NoSpecialChars validates that a string doesn't contain special characters that could be used for injection
func (v *Validator) NoSpecialChars(field, value string) {
	// Disallow characters commonly used in injection attacks
	dangerousChars := []string{"<", ">", "'", "\"", ";", "--", "/*", "*/", "DROP", "SELECT", "INSERT", "UPDATE", "DELETE"}
	upperValue := strings.ToUpper(value)
	for _, char := range dangerousChars {
		if strings.Contains(upperValue, char) {
			v.AddError(field, "contains disallowed characters")
			return
		}
	}
}

// IsAddress reports whether the string is a well-formed EVM address.
func IsAddress(value string) bool {
	return addressRegex.MatchString(value)
}

// IsTxHash reports whether the string is a well-formed transaction hash.
func IsTxHash(value string) bool {
	return txHashRegex.MatchString(value)
}

// IsWeiAmount reports whether the string is a base-10 wei amount.
func IsWeiAmount(value string) bool {
	return weiRegex.MatchString(value)
}

// RecommendedActions is the closed vocabulary an analyzer opinion or
// consensus decision may carry.
var RecommendedActions = []string{"buy", "sell", "hold", "launch", "avoid", "monitor", "investigate"}

// RunRequestValidator validates evaluation-run requests
type RunRequestValidator struct {
	*Validator
}

// NewRunRequestValidator creates a validator for run requests
func NewRunRequestValidator() *RunRequestValidator {
	return &RunRequestValidator{
		Validator: NewValidator(),
	}
}

// ValidateTargetToken validates the token address a run evaluates
func (v *RunRequestValidator) ValidateTargetToken(address string) {
	v.Required("target_token", address)
	if v.HasErrors() {
		return
	}
	v.Address("target_token", address)
}

// ValidateAction validates a recommended action against the closed vocabulary
func (v *RunRequestValidator) ValidateAction(action string) {
	v.Required("action", action)
	if v.HasErrors() {
		return
	}
	v.OneOf("action", strings.ToLower(action), RecommendedActions)
}

// ValidateBudget validates the wei budget attached to a run
func (v *RunRequestValidator) ValidateBudget(budgetWei string) {
	if budgetWei == "" {
		return // budget is optional; the session key carries its own
	}
	v.WeiAmount("budget_wei", budgetWei)
}

// SessionGrantValidator validates session-key grant requests
type SessionGrantValidator struct {
	*Validator
}

// NewSessionGrantValidator creates a validator for session grants
func NewSessionGrantValidator() *SessionGrantValidator {
	return &SessionGrantValidator{
		Validator: NewValidator(),
	}
}

// ValidateBudget validates the grant budget in wei
func (v *SessionGrantValidator) ValidateBudget(budgetWei string) {
	v.Required("budget_wei", budgetWei)
	if v.HasErrors() {
		return
	}
	v.WeiAmount("budget_wei", budgetWei)
}

// ValidateTTL validates the grant lifetime in hours
func (v *SessionGrantValidator) ValidateTTL(ttlHours int, maxHours int) {
	if ttlHours < 1 {
		v.AddError("ttl_hours", "must be at least 1 hour")
	}
	if maxHours > 0 && ttlHours > maxHours {
		v.AddError("ttl_hours", fmt.Sprintf("must be at most %d hours", maxHours))
	}
}

// ValidateAllowedContracts validates the contract allowlist
func (v *SessionGrantValidator) ValidateAllowedContracts(contracts []string) {
	if len(contracts) == 0 {
		v.AddError("allowed_contracts", "at least one contract is required")
		return
	}
	for i, c := range contracts {
		v.Address(fmt.Sprintf("allowed_contracts[%d]", i), c)
	}
}

// SanitizeInput sanitizes user input to prevent injection attacks
func SanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	// Limit length to prevent DoS
	if len(input) > 10000 {
		input = input[:10000]
	}

	return input
}

// NormalizeAddress lowercases a well-formed address for use as a map or
// cache key. Returns the input unchanged when it is not an address.
func NormalizeAddress(address string) string {
	if !addressRegex.MatchString(address) {
		return address
	}
	return strings.ToLower(address)
}
