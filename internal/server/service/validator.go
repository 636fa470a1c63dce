package service

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	DefaultWindowDays = 7
	MinWindowDays     = 1
	MaxWindowDays     = 7
	MinPasswordLength = 6
	MaxPasswordBytes  = 72 // bcrypt input limit
	MaxTagLength      = 30
)

// UploadRequest carries everything the transport layer extracted from an
// upload. Size is the declared length of Content.
type UploadRequest struct {
	Filename       string
	ContentType    string
	Size           int64
	Content        io.Reader
	Owner          string
	ExpirationDays *int
	Password       string
	Tags           []string
}

// Normalized is the validated form of the optional upload parameters.
// An empty Password means the file is not protected.
type Normalized struct {
	WindowDays int
	Password   string
	Tags       []string
}

// Validator rejects uploads before any storage is touched. Its deny-list is
// fixed at construction.
type Validator struct {
	forbidden map[string]struct{}
}

// NewValidator builds a validator denying the given extensions. Entries are
// matched case-insensitively, with or without a leading dot.
func NewValidator(forbiddenExtensions []string) *Validator {
	forbidden := make(map[string]struct{}, len(forbiddenExtensions))
	for _, ext := range forbiddenExtensions {
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if ext != "" {
			forbidden[ext] = struct{}{}
		}
	}
	return &Validator{forbidden: forbidden}
}

// Validate checks req and returns its normalized parameters. The empty
// payload check runs first so it wins regardless of the other fields.
func (v *Validator) Validate(req UploadRequest) (Normalized, error) {
	if req.Size <= 0 {
		return Normalized{}, invalid(ErrEmptyPayload, "")
	}

	if ext := extension(req.Filename); ext != "" {
		if _, denied := v.forbidden[ext]; denied {
			return Normalized{}, invalid(ErrForbiddenType, fmt.Sprintf("file type not allowed: .%s", ext))
		}
	}

	password := req.Password
	switch {
	case strings.TrimSpace(password) == "":
		password = ""
	case utf8.RuneCountInString(password) < MinPasswordLength:
		return Normalized{}, invalid(ErrWeakPassword, "")
	case len(password) > MaxPasswordBytes:
		return Normalized{}, invalid(ErrWeakPassword, fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}

	tags, err := normalizeTags(req.Tags)
	if err != nil {
		return Normalized{}, err
	}

	return Normalized{
		WindowDays: normalizeWindow(req.ExpirationDays),
		Password:   password,
		Tags:       tags,
	}, nil
}

// normalizeWindow falls back to the default for a missing or out-of-range
// window instead of rejecting it.
func normalizeWindow(days *int) int {
	if days == nil || *days < MinWindowDays || *days > MaxWindowDays {
		return DefaultWindowDays
	}
	return *days
}

// normalizeTags trims every tag, drops blanks and keeps the first occurrence
// of duplicates.
func normalizeTags(raw []string) ([]string, error) {
	var tags []string
	seen := make(map[string]bool, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, invalid(ErrTagTooLong, fmt.Sprintf("tag exceeds %d characters: %q", MaxTagLength, tag))
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags, nil
}

// extension returns the lower-cased text after the last dot of name's base.
func extension(name string) string {
	name = name[strings.LastIndexAny(name, `/\`)+1:]
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
