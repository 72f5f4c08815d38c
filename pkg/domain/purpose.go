package domain

// Purpose partitions email verification codes by their intended use.
type Purpose string

const (
	PurposeVerification    Purpose = "verification"
	PurposePasswordReset   Purpose = "password_reset"
	PurposeEmailChange     Purpose = "email_change"
	PurposeAccountDeletion Purpose = "account_deletion"
	PurposeSensitiveAction Purpose = "sensitive_action"
)

var purposeSubjects = map[Purpose]string{
	PurposeVerification:    "Email Verification Code",
	PurposePasswordReset:   "Password Reset Verification Code",
	PurposeEmailChange:     "Email Change Verification Code",
	PurposeAccountDeletion: "Account Deletion Verification Code",
	PurposeSensitiveAction: "Security Verification Code",
}

var purposeDescriptions = map[Purpose]string{
	PurposeVerification:    "verify your email address",
	PurposePasswordReset:   "reset your password",
	PurposeEmailChange:     "confirm your email change",
	PurposeAccountDeletion: "confirm the deletion of your account",
	PurposeSensitiveAction: "confirm this security-sensitive action",
}

// Purposes returns every known purpose in a stable order.
func Purposes() []Purpose {
	return []Purpose{
		PurposeVerification,
		PurposePasswordReset,
		PurposeEmailChange,
		PurposeAccountDeletion,
		PurposeSensitiveAction,
	}
}

// ParsePurpose converts a raw string into a Purpose.
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(s)
	if !p.Valid() {
		return "", ErrUnknownPurpose
	}
	return p, nil
}

// ParseActionPurpose accepts only the purposes that gate a sensitive action.
func ParseActionPurpose(s string) (Purpose, error) {
	p, err := ParsePurpose(s)
	if err != nil {
		return "", err
	}
	if !p.IsAction() {
		return "", ErrUnknownPurpose
	}
	return p, nil
}

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	_, ok := purposeSubjects[p]
	return ok
}

// IsAction reports whether p re-authenticates a sensitive action.
func (p Purpose) IsAction() bool {
	return p.Valid() && p != PurposeVerification
}

// Subject returns the email subject line used for codes of this purpose.
func (p Purpose) Subject() string {
	if s, ok := purposeSubjects[p]; ok {
		return s
	}
	return "Verification Code"
}

// Description returns the phrase completing "Use this code to ...".
func (p Purpose) Description() string {
	if d, ok := purposeDescriptions[p]; ok {
		return d
	}
	return "continue"
}

func (p Purpose) String() string {
	return string(p)
}
