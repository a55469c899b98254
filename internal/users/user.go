package users

import (
	"errors"
	"strings"
	"time"
)

// PhotoContentTypeURL marks a profile photo whose Data is a remote URL rather than an inline data URL.
const PhotoContentTypeURL = "url"

var (
	// ErrMissingCredential reports a user write that carries no credential.
	ErrMissingCredential = errors.New("users: credential is required")
	// ErrSubjectConflict reports an attempt to link a second federated subject to one user.
	ErrSubjectConflict = errors.New("users: federated subject already linked")
)

// Credential is how a user proves identity. It is exactly one of LocalCredential,
// FederatedCredential, or LinkedCredential.
type Credential interface {
	credential()
}

// LocalCredential is a password-only account.
type LocalCredential struct {
	Hash string
}

// FederatedCredential is a Google-only account identified by its subject.
type FederatedCredential struct {
	Subject string
}

// LinkedCredential carries both a password digest and a federated subject.
type LinkedCredential struct {
	Hash    string
	Subject string
}

func (LocalCredential) credential()     {}
func (FederatedCredential) credential() {}
func (LinkedCredential) credential()    {}

// PasswordHash returns the stored digest when the credential has one.
func PasswordHash(credential Credential) (string, bool) {
	switch c := credential.(type) {
	case LocalCredential:
		return c.Hash, c.Hash != ""
	case LinkedCredential:
		return c.Hash, c.Hash != ""
	default:
		return "", false
	}
}

// FederatedSubject returns the linked federated subject when the credential has one.
func FederatedSubject(credential Credential) (string, bool) {
	switch c := credential.(type) {
	case FederatedCredential:
		return c.Subject, c.Subject != ""
	case LinkedCredential:
		return c.Subject, c.Subject != ""
	default:
		return "", false
	}
}

// LinkSubject attaches a federated subject. A local account becomes linked; an account that
// already carries the same subject is returned unchanged. A different subject is a conflict.
func LinkSubject(credential Credential, subject string) (Credential, error) {
	if existing, ok := FederatedSubject(credential); ok {
		if existing != subject {
			return credential, ErrSubjectConflict
		}
		return credential, nil
	}
	hash, ok := PasswordHash(credential)
	if !ok {
		return FederatedCredential{Subject: subject}, nil
	}
	return LinkedCredential{Hash: hash, Subject: subject}, nil
}

// WithPassword replaces the password digest. A linked subject is kept.
func WithPassword(credential Credential, hash string) Credential {
	if subject, ok := FederatedSubject(credential); ok {
		return LinkedCredential{Hash: hash, Subject: subject}
	}
	return LocalCredential{Hash: hash}
}

func credentialFromParts(hash, subject string) (Credential, error) {
	switch {
	case hash != "" && subject != "":
		return LinkedCredential{Hash: hash, Subject: subject}, nil
	case hash != "":
		return LocalCredential{Hash: hash}, nil
	case subject != "":
		return FederatedCredential{Subject: subject}, nil
	default:
		return nil, ErrMissingCredential
	}
}

func credentialParts(credential Credential) (string, string, error) {
	hash, hasHash := PasswordHash(credential)
	subject, hasSubject := FederatedSubject(credential)
	if !hasHash && !hasSubject {
		return "", "", ErrMissingCredential
	}
	return hash, subject, nil
}

// ProfilePhoto is an inline data URL or, with ContentType PhotoContentTypeURL, a remote URL.
type ProfilePhoto struct {
	Data        string
	ContentType string
}

// User is a registered account.
type User struct {
	ID           string
	Name         string
	Email        string
	Credential   Credential
	ProfilePhoto *ProfilePhoto
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeEmail trims and lowercases an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
